package download

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/gif" // регистрация декодера GIF
	"image/jpeg"
	_ "image/png" // регистрация декодера PNG

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // регистрация декодера WebP
)

// maxPixels — защита от декомпрессионных бомб.
const maxPixels = 50_000_000

// Normalizer приводит изображение к единому формату:
// JPEG заданного качества, длинная сторона не больше MaxDimension.
type Normalizer struct {
	MaxDimension int
	Quality      int
}

// NewNormalizer создаёт Normalizer с допустимыми значениями параметров.
func NewNormalizer(maxDimension, quality int) *Normalizer {
	if quality < 1 || quality > 100 {
		quality = jpeg.DefaultQuality
	}
	return &Normalizer{MaxDimension: max(maxDimension, 1), Quality: quality}
}

// Normalize декодирует изображение, уменьшает и перекодирует в JPEG.
// Прозрачность заливается белым.
func (n *Normalizer) Normalize(data []byte) ([]byte, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: неподдерживаемый формат: %v", ErrValidation, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.Width*cfg.Height > maxPixels {
		return nil, fmt.Errorf("%w: недопустимые размеры %dx%d", ErrValidation, cfg.Width, cfg.Height)
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: ошибка декодирования: %v", ErrValidation, err)
	}

	w, h := fitWithin(src.Bounds().Dx(), src.Bounds().Dy(), n.MaxDimension)
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	if w == src.Bounds().Dx() && h == src.Bounds().Dy() {
		draw.Draw(dst, dst.Bounds(), src, src.Bounds().Min, draw.Over)
	} else {
		draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: n.Quality}); err != nil {
		return nil, fmt.Errorf("кодирование JPEG: %w", err)
	}
	return buf.Bytes(), nil
}

// fitWithin масштабирует размеры с сохранением пропорций так,
// чтобы длинная сторона не превышала limit.
func fitWithin(w, h, limit int) (int, int) {
	if w <= limit && h <= limit {
		return w, h
	}
	if w >= h {
		return limit, max(h*limit/w, 1)
	}
	return max(w*limit/h, 1), limit
}
