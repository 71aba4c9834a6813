package services

import (
	"bytes"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQRService_GeneratePNG(t *testing.T) {
	service := NewQRService()

	t.Run("Default Size", func(t *testing.T) {
		data, err := service.GeneratePNG(QROptions{Content: "https://example.com/r/AB12X9"})
		assert.NoError(t, err)

		img, err := png.Decode(bytes.NewReader(data))
		assert.NoError(t, err)
		assert.Equal(t, 256, img.Bounds().Dx())
	})

	t.Run("Custom Size And Colors", func(t *testing.T) {
		data, err := service.GeneratePNG(QROptions{Content: "x", Size: 128, FgColor: "#112233", BgColor: "ffffff"})
		assert.NoError(t, err)

		img, err := png.Decode(bytes.NewReader(data))
		assert.NoError(t, err)
		assert.Equal(t, 128, img.Bounds().Dx())
	})

	t.Run("Empty Content", func(t *testing.T) {
		_, err := service.GeneratePNG(QROptions{})
		assert.Error(t, err)
	})
}

func TestParseHexColor(t *testing.T) {
	assert.Equal(t, color.RGBA{R: 0x11, G: 0x22, B: 0x33, A: 255}, parseHexColor("#112233", color.Black))
	assert.Equal(t, color.RGBA{R: 0xAB, G: 0xCD, B: 0xEF, A: 255}, parseHexColor("abcdef", color.Black))
	assert.Equal(t, color.Black, parseHexColor("#12", color.Black))
	assert.Equal(t, color.White, parseHexColor("#GG0000", color.White))
}
