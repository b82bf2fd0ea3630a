package payload

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/fpang/lynx-studio/internal/apperr"
	"github.com/fpang/lynx-studio/internal/enhance"
)

func pngBytes(t *testing.T, w, h int, fill func(x, y int) color.Color) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, fill(x, y))
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode() error = %v", err)
	}
	return buf.Bytes()
}

func TestBuild_PartOrder(t *testing.T) {
	p, err := Build(Input{
		Source:      "data:image/png;base64,U09VUkNF",
		Reference:   "data:image/webp;base64,UkVG",
		Mask:        "TUFTSw==",
		Instruction: "do the thing",
		Size:        enhance.Ratio("16:9"),
	}, Options{})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	want := []Part{
		{MIMEType: "image/png", Data: "U09VUkNF"},
		{MIMEType: "image/webp", Data: "UkVG"},
		{MIMEType: "image/png", Data: "TUFTSw=="},
		{Text: "do the thing"},
	}
	if len(p.Parts) != len(want) {
		t.Fatalf("len(Parts) = %d, want %d", len(p.Parts), len(want))
	}
	for i := range want {
		if p.Parts[i] != want[i] {
			t.Errorf("Parts[%d] = %+v, want %+v", i, p.Parts[i], want[i])
		}
	}
	if p.AspectRatio != "16:9" {
		t.Errorf("AspectRatio = %q, want 16:9", p.AspectRatio)
	}
	if p.Images() != 3 {
		t.Errorf("Images() = %d, want 3", p.Images())
	}
}

func TestBuild_GenerationHasOnlyText(t *testing.T) {
	p, err := Build(Input{Instruction: "a lynx"}, Options{})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if len(p.Parts) != 1 || p.Parts[0].Text != "a lynx" {
		t.Errorf("Parts = %+v, want single text part", p.Parts)
	}
	if p.AspectRatio != "" {
		t.Errorf("AspectRatio = %q, want empty", p.AspectRatio)
	}
}

func TestBuild_DefaultMIMETypes(t *testing.T) {
	p, err := Build(Input{Source: "QUJD", Reference: "REVG", Instruction: "x"}, Options{})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if p.Parts[0].MIMEType != "image/jpeg" || p.Parts[1].MIMEType != "image/jpeg" {
		t.Errorf("MIME types = %q, %q, want image/jpeg", p.Parts[0].MIMEType, p.Parts[1].MIMEType)
	}
}

func TestBuild_Invalid(t *testing.T) {
	tests := []struct {
		name string
		in   Input
	}{
		{"empty instruction", Input{Source: "QUJD"}},
		{"zero width", Input{Instruction: "x", Size: enhance.Explicit(0, 10)}},
		{"negative height", Input{Instruction: "x", Size: enhance.Explicit(10, -1)}},
		{"prefix only", Input{Source: "data:image/png;base64,", Instruction: "x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Build(tt.in, Options{})
			if apperr.KindOf(err) != apperr.KindInvalidInput {
				t.Errorf("Build() error = %v, want InvalidInput", err)
			}
		})
	}
}

func TestSizeDirective(t *testing.T) {
	tests := []struct {
		in   enhance.SizePolicy
		want string
	}{
		{enhance.MatchSource, ""},
		{enhance.Ratio("9:16"), "9:16"},
		{enhance.Explicit(1920, 1080), "1920:1080"},
	}
	for _, tt := range tests {
		got, err := SizeDirective(tt.in)
		if err != nil {
			t.Fatalf("SizeDirective(%v) error = %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("SizeDirective(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestStripDataURI(t *testing.T) {
	tests := []struct {
		in       string
		wantMIME string
		wantData string
	}{
		{"data:image/jpg;base64,AAAA", "image/jpeg", "AAAA"},
		{"data:image/PNG;base64,BBBB", "image/png", "BBBB"},
		{"CCCC", "", "CCCC"},
		{"  data:image/webp;base64,DDDD\n", "image/webp", "DDDD"},
	}
	for _, tt := range tests {
		mime, data := StripDataURI(tt.in)
		if mime != tt.wantMIME || data != tt.wantData {
			t.Errorf("StripDataURI(%q) = (%q, %q), want (%q, %q)", tt.in, mime, data, tt.wantMIME, tt.wantData)
		}
	}
}

func TestDataURI(t *testing.T) {
	tests := []struct{ in, want string }{
		{"aGVsbG8=", "data:image/jpeg;base64,aGVsbG8="},
		{"data:image/png;base64,aGVsbG8=", "data:image/png;base64,aGVsbG8="},
		{"data:image/jpg;base64,AAAA", "data:image/jpeg;base64,AAAA"},
	}
	for _, tt := range tests {
		if got := DataURI(tt.in, "image/jpeg"); got != tt.want {
			t.Errorf("DataURI(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDecodeRoundTrip(t *testing.T) {
	uri := EncodeDataURI("image/png", []byte("hello"))
	mime, data, err := Decode(uri)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if mime != "image/png" || string(data) != "hello" {
		t.Errorf("Decode() = (%q, %q)", mime, data)
	}
}

func TestNormalizeMask(t *testing.T) {
	source := pngBytes(t, 8, 4, func(x, y int) color.Color { return color.White })
	// 2x1 mask: left half bright grey, right half transparent white.
	mask := pngBytes(t, 2, 1, func(x, y int) color.Color {
		if x == 0 {
			return color.NRGBA{R: 200, G: 200, B: 200, A: 255}
		}
		return color.NRGBA{R: 255, G: 255, B: 255, A: 0}
	})

	out, err := NormalizeMask(mask, source)
	if err != nil {
		t.Fatalf("NormalizeMask() error = %v", err)
	}
	img, err := png.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("png.Decode() error = %v", err)
	}
	if img.Bounds().Dx() != 8 || img.Bounds().Dy() != 4 {
		t.Fatalf("bounds = %v, want 8x4", img.Bounds())
	}
	if g := color.GrayModel.Convert(img.At(1, 1)).(color.Gray); g.Y != 0xff {
		t.Errorf("left pixel = %d, want 255", g.Y)
	}
	if g := color.GrayModel.Convert(img.At(6, 2)).(color.Gray); g.Y != 0 {
		t.Errorf("right pixel = %d, want 0", g.Y)
	}
}

func TestBuild_NormalizeMaskFallsBackOnGarbage(t *testing.T) {
	p, err := Build(Input{
		Source:      base64.StdEncoding.EncodeToString([]byte("not an image")),
		Mask:        "TUFTSw==",
		Instruction: "x",
	}, Options{NormalizeMask: true})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if p.Parts[1].Data != "TUFTSw==" {
		t.Errorf("mask part = %+v, want unchanged", p.Parts[1])
	}
}

func TestBuild_NormalizeMaskApplied(t *testing.T) {
	source := pngBytes(t, 4, 4, func(x, y int) color.Color { return color.Black })
	mask := pngBytes(t, 2, 2, func(x, y int) color.Color { return color.White })

	p, err := Build(Input{
		Source:      EncodeDataURI("image/png", source),
		Mask:        EncodeDataURI("image/png", mask),
		Instruction: "x",
	}, Options{NormalizeMask: true})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	raw, err := base64.StdEncoding.DecodeString(p.Parts[1].Data)
	if err != nil {
		t.Fatalf("mask base64 error = %v", err)
	}
	cfg, err := png.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("png.DecodeConfig() error = %v", err)
	}
	if cfg.Width != 4 || cfg.Height != 4 {
		t.Errorf("normalized mask = %dx%d, want 4x4", cfg.Width, cfg.Height)
	}
}
