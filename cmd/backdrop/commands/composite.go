package commands

import (
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/bryanchriswhite/Backdrop/internal/background"
	"github.com/bryanchriswhite/Backdrop/internal/config"
	"github.com/bryanchriswhite/Backdrop/internal/logger"
	"github.com/bryanchriswhite/Backdrop/internal/pipeline"
	"github.com/bryanchriswhite/Backdrop/internal/segment"
	"github.com/spf13/cobra"
	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
)

var compositeCmd = &cobra.Command{
	Use:   "composite",
	Short: "Composite a single image onto a background",
	Long: `Run one still image through segmentation, matte classification and
compositing, and write the result to a file. The background is scaled to the
size of the input image. The output format follows the file extension
(.png, .jpg, .bmp or .tif).

Segmentation uses the configured segmenter unless --key or --segmenter-url
is given.`,
	Example: `  # Key out a green screen
  backdrop composite --frame shot.png --background beach.jpg --out out.png --key "#00ff00"

  # Ask a segmentation service
  backdrop composite --frame shot.png --background https://example.com/bg.jpg \
    --out out.jpg --segmenter-url http://localhost:9000/segment`,
	RunE: runComposite,
}

var compositeFlags struct {
	frame        string
	background   string
	out          string
	key          string
	tolerance    float64
	scaler       string
	segmenterURL string
}

func init() {
	rootCmd.AddCommand(compositeCmd)

	f := compositeCmd.Flags()
	f.StringVar(&compositeFlags.frame, "frame", "", "input image path or URL (required)")
	f.StringVar(&compositeFlags.background, "background", "", "background image path or URL (default: bundled gradient)")
	f.StringVarP(&compositeFlags.out, "out", "o", "", "output file (required)")
	f.StringVar(&compositeFlags.key, "key", "", "chroma key color, e.g. #00ff00")
	f.Float64Var(&compositeFlags.tolerance, "tolerance", 0, "chroma key tolerance in (0,1]")
	f.StringVar(&compositeFlags.scaler, "scaler", "", "background scaler (nearest, bilinear, catmullrom, lanczos)")
	f.StringVar(&compositeFlags.segmenterURL, "segmenter-url", "", "remote segmentation endpoint")

	compositeCmd.MarkFlagRequired("frame")
	compositeCmd.MarkFlagRequired("out")
}

func runComposite(cmd *cobra.Command, args []string) error {
	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	cfg := configMgr.Get()

	segCfg := cfg.Segmenter
	switch {
	case compositeFlags.segmenterURL != "":
		segCfg.Kind = config.SegmenterRemote
		segCfg.URL = compositeFlags.segmenterURL
	case compositeFlags.key != "":
		segCfg.Kind = config.SegmenterChromaKey
		segCfg.KeyColor = compositeFlags.key
	}
	if compositeFlags.tolerance != 0 {
		segCfg.Tolerance = compositeFlags.tolerance
	}
	seg, err := newSegmenter(segCfg)
	if err != nil {
		return err
	}

	scaler := cfg.Pipeline.Scaler
	if compositeFlags.scaler != "" {
		scaler = config.ScalerKind(strings.ToLower(compositeFlags.scaler))
	}

	if err := compositeFile(cmd.Context(), seg, compositeFlags.frame, compositeFlags.background, compositeFlags.out, scaler); err != nil {
		return err
	}
	fmt.Printf("✅ Wrote %s\n", compositeFlags.out)
	return nil
}

// compositeFile loads frameURI, composites it over the background at
// bgURI scaled to the frame size and writes the result to out
func compositeFile(ctx context.Context, seg segment.Segmenter, frameURI, bgURI, out string, scaler config.ScalerKind) error {
	loader := background.NewLoader(nil)

	frame, err := loader.Fetch(ctx, frameURI)
	if err != nil {
		return fmt.Errorf("failed to load frame: %w", err)
	}

	bg := background.Default()
	if bgURI != "" {
		if bg, err = loader.Fetch(ctx, bgURI); err != nil {
			return fmt.Errorf("failed to load background: %w", err)
		}
	}
	bg, err = background.Scale(bg, frame.Rect.Dx(), frame.Rect.Dy(), scaler)
	if err != nil {
		return err
	}

	result, err := pipeline.Still(ctx, seg, frame, bg)
	if err != nil {
		return fmt.Errorf("composite failed: %w", err)
	}

	logger.WithComponent("composite").Debug().
		Str("segmenter", seg.Name()).
		Int("width", result.Rect.Dx()).
		Int("height", result.Rect.Dy()).
		Msg("Composite done")

	return writeImage(out, result)
}

// writeImage encodes img in the format implied by the extension of path
func writeImage(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".png", "":
		err = png.Encode(f, img)
	case ".jpg", ".jpeg":
		err = jpeg.Encode(f, img, &jpeg.Options{Quality: 95})
	case ".bmp":
		err = bmp.Encode(f, img)
	case ".tif", ".tiff":
		err = tiff.Encode(f, img, &tiff.Options{Compression: tiff.Deflate})
	default:
		err = fmt.Errorf("unsupported output format: %s", filepath.Ext(path))
	}
	if err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}
