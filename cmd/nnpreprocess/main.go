// nnpreprocess resizes an image file to the 224x224 classifier input with the preprocess package, and writes
// the resulting greyscale bitmap as a PNG.
package main

import (
	"flag"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"os"
	"strings"

	"github.com/gomlx/nnbridge/bitmap"
	"github.com/gomlx/nnbridge/nnrt"
	"github.com/gomlx/nnbridge/preprocess"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
	"k8s.io/klog/v2"
)

var (
	flagInput            = flag.String("in", "", "Input image file: PNG, JPEG, GIF, BMP or WebP.")
	flagOutput           = flag.String("out", "", "Output PNG file with the 224x224 greyscale result.")
	flagDriver           = flag.String("driver", "", "nnrt driver to compile and run the resize graph. Defaults to $"+preprocess.DriverEnv+" or \"cpu\".")
	flagLegacyIndexing   = flag.Bool("legacy_indexing", false, "Read the tensor with the legacy data[y*batch+x] indexing when creating the output bitmap.")
	flagCollapse         = flag.String("collapse", "", "How channels are collapsed to grey: \"first\" or \"mean\".")
	flagAlignCorners     = flag.Bool("align_corners", false, "Resize with aligned corners.")
	flagHalfPixelCenters = flag.Bool("half_pixel_centers", false, "Resize with half pixel centers.")
	flagListDrivers      = flag.Bool("list_drivers", false, "List the available nnrt drivers and exit.")
)

func main() {
	klog.InitFlags(nil)
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `nnpreprocess resizes an image to the %dx%dx%d classifier input tensor, and saves it as a greyscale PNG.

Usage:
	nnpreprocess -in photo.jpg -out tensor.png [flags]

`, preprocess.OutputWidth, preprocess.OutputHeight, preprocess.OutputChannels)
		flag.PrintDefaults()
	}
	flag.Parse()

	if *flagListDrivers {
		fmt.Println(strings.Join(nnrt.AvailableDrivers(), "\n"))
		return
	}
	if *flagInput == "" || *flagOutput == "" {
		flag.Usage()
		os.Exit(1)
	}

	cfg := preprocess.DefaultConfig()
	if *flagDriver != "" {
		cfg.DriverName = *flagDriver
	}
	if *flagLegacyIndexing {
		cfg.Materialize.Indexing = bitmap.IndexLegacy
	}
	if *flagCollapse != "" {
		cfg.Materialize.Collapse = must.M1(preprocess.ParseCollapse(*flagCollapse))
	}
	cfg.Resize.AlignCorners = *flagAlignCorners
	cfg.Resize.HalfPixelCenters = *flagHalfPixelCenters

	img, format, err := decode(*flagInput)
	if err != nil {
		klog.Fatalf("Failed to read input: %+v", err)
	}
	klog.V(1).Infof("Read %s image %q of %dx%d", format, *flagInput, img.Bounds().Dx(), img.Bounds().Dy())

	host := bitmap.NewMemoryHost()
	result, err := preprocess.New(host, cfg).Preprocess(bitmap.FromImage(img))
	if err != nil {
		klog.Fatalf("Failed to preprocess %q: %+v", *flagInput, err)
	}

	f := must.M1(os.Create(*flagOutput))
	if err := png.Encode(f, result.Image()); err != nil {
		_ = f.Close()
		klog.Fatalf("Failed to encode %q: %+v", *flagOutput, err)
	}
	must.M(f.Close())
	fmt.Printf("%s (%dx%d) -> %s (%dx%d) on driver %q\n", *flagInput, img.Bounds().Dx(), img.Bounds().Dy(),
		*flagOutput, result.Width(), result.Height(), cfg.DriverName)
}

// decode reads an image in any of the registered formats.
func decode(path string) (image.Image, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", errors.Wrapf(err, "opening %q", path)
	}
	defer func() { _ = f.Close() }()
	img, format, err := image.Decode(f)
	if err != nil {
		return nil, "", errors.Wrapf(err, "decoding %q", path)
	}
	return img, format, nil
}
