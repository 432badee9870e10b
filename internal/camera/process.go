package camera

import (
	"fmt"
	"image/jpeg"
	"io"

	"github.com/disintegration/imaging"
)

// Downscale rewrites the JPEG at path so it is at most maxWidth pixels wide.
// Smaller frames keep the face detector fast on the probe path.
func Downscale(path string, maxWidth int) error {
	if maxWidth <= 0 {
		return nil
	}
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return fmt.Errorf("decode frame: %w", err)
	}
	if img.Bounds().Dx() <= maxWidth {
		return nil
	}
	resized := imaging.Resize(img, maxWidth, 0, imaging.Lanczos)
	if err := imaging.Save(resized, path, imaging.JPEGQuality(80)); err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	return nil
}

// Reencode copies the JPEG at src to w, fitting it within maxWidth (0 keeps
// the original size) at the given quality.
func Reencode(src string, w io.Writer, maxWidth, quality int) error {
	img, err := imaging.Open(src, imaging.AutoOrientation(true))
	if err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}
	if maxWidth > 0 && img.Bounds().Dx() > maxWidth {
		img = imaging.Fit(img, maxWidth, img.Bounds().Dy(), imaging.Lanczos)
	}
	if err := jpeg.Encode(w, img, &jpeg.Options{Quality: quality}); err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return nil
}
