package pipeline

import (
	"context"
	"encoding/json"
	"image"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/menta2k/ship-detector/internal/utils"
	"github.com/menta2k/ship-detector/pkg/edgemap"
	"github.com/menta2k/ship-detector/pkg/processing"
)

// ReportSuffix names the per-frame box report
const ReportSuffix = "_boxes"

// stage copies or downloads every input into framesDir. Directories
// contribute their image files.
func (p *Pipeline) stage(ctx context.Context, r *run, framesDir string, inputs []string) error {
	if err := utils.EnsureDir(framesDir); err != nil {
		return r.fail(StageInput, "", err)
	}

	seen := make(map[string]string)
	claim := func(source, stem string) error {
		if prev, ok := seen[stem]; ok {
			return r.fail(StageInput, source, errors.Wrapf(ErrDuplicateInput, "%s and %s", prev, source))
		}
		seen[stem] = source
		return nil
	}

	for _, input := range inputs {
		switch {
		case processing.IsURL(input):
			stem := utils.SanitizeFilename(edgemap.Stem(input))
			if stem == "" {
				stem = "remote"
			}
			if err := claim(input, stem); err != nil {
				return err
			}
			img, err := p.processor.LoadImageFromURL(ctx, input)
			if err != nil {
				return r.fail(StageInput, input, err)
			}
			if err := p.processor.SaveImage(img, filepath.Join(framesDir, stem+".png"), "png", 0, true); err != nil {
				return r.fail(StageInput, input, err)
			}

		case utils.DirExists(input):
			files, err := utils.ListImageFiles(input)
			if err != nil {
				return r.fail(StageInput, input, err)
			}
			for _, f := range files {
				if err := p.stageFile(r, framesDir, f, claim); err != nil {
					return err
				}
			}

		default:
			if err := p.stageFile(r, framesDir, input, claim); err != nil {
				return err
			}
		}
	}

	r.logger.Debugw("inputs staged", "stage", StageInput, "frames", len(seen), "dir", framesDir)
	return nil
}

func (p *Pipeline) stageFile(r *run, framesDir, path string, claim func(source, stem string) error) error {
	if !utils.FileExists(path) {
		return r.fail(StageInput, path, os.ErrNotExist)
	}
	if !utils.IsImageFile(path) {
		return r.fail(StageInput, path, errors.New("not an image file"))
	}
	if err := claim(path, edgemap.Stem(path)); err != nil {
		return err
	}
	if err := utils.CopyFile(path, filepath.Join(framesDir, filepath.Base(path))); err != nil {
		return r.fail(StageInput, path, err)
	}
	return nil
}

// write persists the mask, the boxed image in archive and viewer encodings,
// the report and any chips. Every output is attempted; failures are combined.
func (p *Pipeline) write(res *FrameResult, mask *image.Gray, boxed image.Image, src image.Image) error {
	out := p.cfg.General.OutputDir
	o := p.cfg.Output

	res.Mask = utils.GenerateOutputFilename(res.Source, out, "", o.MaskSuffix, "png")
	res.Archive = utils.GenerateOutputFilename(res.Source, out, "", o.BoxedSuffix, o.ArchiveFormat)
	res.Viewer = utils.GenerateOutputFilename(res.Source, out, "", o.BoxedSuffix, o.ViewerFormat)

	err := multierr.Combine(
		p.processor.SaveImage(mask, res.Mask, "png", o.Quality, true),
		p.processor.SaveImage(boxed, res.Archive, o.ArchiveFormat, o.Quality, true),
	)
	if res.Viewer != res.Archive {
		err = multierr.Append(err, p.processor.SaveImage(boxed, res.Viewer, o.ViewerFormat, o.Quality, o.Lossless))
	}

	if o.SaveChips && len(res.Boxes) > 0 {
		chips, cropErr := p.cropper.Crop(src, res.Boxes)
		if cropErr != nil {
			err = multierr.Append(err, cropErr)
		} else {
			paths, saveErr := p.cropper.Save(chips, filepath.Join(out, "chips"), res.Name, o.ViewerFormat, o.Quality)
			res.Chips = paths
			err = multierr.Append(err, saveErr)
		}
	}

	if o.SaveReport {
		res.Report = filepath.Join(out, res.Name+ReportSuffix+".json")
		err = multierr.Append(err, writeJSON(res.Report, res))
	}
	return err
}

func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal report")
	}
	return errors.Wrapf(os.WriteFile(path, data, 0o644), "write %s", path)
}
