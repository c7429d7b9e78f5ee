package clickseg

import (
	"fmt"
	"image"
	"image/color"
	"os"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

// TextDrawer 文本绘制工具
type TextDrawer struct {
	font     *opentype.Font
	face     font.Face
	fontSize float64
}

// NewTextDrawer 创建文本绘制工具
//
// # Params:
//
//	fontPath: 字体路径, 为空时使用内置的 Go Regular 字体
func NewTextDrawer(fontPath string) (*TextDrawer, error) {
	if fontPath == "" {
		return NewTextDrawerFromBytes(goregular.TTF)
	}
	fontBytes, err := os.ReadFile(fontPath)
	if err != nil {
		return nil, fmt.Errorf("打开字体文件失败：%w", err)
	}
	return NewTextDrawerFromBytes(fontBytes)
}

// NewTextDrawerFromBytes 从字体数据创建文本绘制工具
func NewTextDrawerFromBytes(fontBytes []byte) (*TextDrawer, error) {
	ttFont, err := opentype.Parse(fontBytes)
	if err != nil {
		return nil, fmt.Errorf("解析字体文件失败：%w", err)
	}

	d := &TextDrawer{font: ttFont}
	if err := d.SetSize(12); err != nil {
		return nil, err
	}
	return d, nil
}

// SetSize 动态调整字体大小
//
// # Params:
//
//	fontSize: 字体大小
func (d *TextDrawer) SetSize(fontSize float64) error {
	if d.face != nil && d.fontSize == fontSize {
		return nil
	}

	// 释放旧 Face 内存
	if d.face != nil {
		d.face.Close()
	}

	nf, err := opentype.NewFace(d.font, &opentype.FaceOptions{
		Size:    fontSize,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return err
	}

	d.face = nf
	d.fontSize = fontSize
	return nil
}

// DrawText 绘制文本, (x, y) 为基线起点
func (d *TextDrawer) DrawText(img draw.Image, text string, x, y int, c color.Color) {
	d1 := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: d.face,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y)},
	}
	d1.DrawString(text)
}

// Close 释放资源
func (d *TextDrawer) Close() {
	if d.face != nil {
		d.face.Close()
	}
}

// Overlay 将 Mask 以半透明颜色叠加到原图上
//
// # Params:
//
//	img: 原图
//	mask: 单通道 Mask, 尺寸不同时按最近邻缩放到原图尺寸
//	tint: 叠加颜色, A 为最大不透明度
func Overlay(img image.Image, mask *image.Gray, tint color.RGBA) *image.RGBA {
	bounds := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(dst, dst.Bounds(), img, bounds.Min, draw.Src)

	if mask.Bounds().Dx() != bounds.Dx() || mask.Bounds().Dy() != bounds.Dy() {
		scaled := image.NewGray(dst.Bounds())
		draw.NearestNeighbor.Scale(scaled, scaled.Bounds(), mask, mask.Bounds(), draw.Src, nil)
		mask = scaled
	}

	// Gray 的 alpha 恒为不透明, 需要转换为 Alpha 才能作为蒙版
	mb := mask.Bounds()
	alpha := image.NewAlpha(mb)
	for y := mb.Min.Y; y < mb.Max.Y; y++ {
		for x := mb.Min.X; x < mb.Max.X; x++ {
			v := mask.GrayAt(x, y).Y
			alpha.SetAlpha(x, y, color.Alpha{A: uint8(uint32(v) * uint32(tint.A) / 255)})
		}
	}
	solid := color.RGBA{R: tint.R, G: tint.G, B: tint.B, A: 255}
	draw.DrawMask(dst, dst.Bounds(), image.NewUniform(solid), image.Point{}, alpha, mask.Bounds().Min, draw.Over)
	return dst
}

// DrawLabel 在左上角绘制带底色的文本
func (d *TextDrawer) DrawLabel(img draw.Image, text string, fg, bg color.Color) {
	metrics := d.face.Metrics()
	width := font.MeasureString(d.face, text).Ceil()
	height := (metrics.Ascent + metrics.Descent).Ceil()
	pad := 4
	draw.Draw(img, image.Rect(0, 0, width+2*pad, height+2*pad), image.NewUniform(bg), image.Point{}, draw.Src)
	d.DrawText(img, text, pad, pad+metrics.Ascent.Ceil(), fg)
}
