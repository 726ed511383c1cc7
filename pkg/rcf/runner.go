// Package rcf runs a pretrained RCF edge network as an external command.
//
// The command runs once per directory. Its arguments may reference the
// placeholders {input}, {output}, {checkpoint} and {device}; the command must
// write one inverted edge map per frame following the edgemap naming rules.
// The device is exported as CUDA_VISIBLE_DEVICES with PCI bus ordering.
package rcf

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/mattn/go-shellwords"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/menta2k/ship-detector/internal/utils"
	"github.com/menta2k/ship-detector/pkg/edgemap"
)

// ProviderName identifies the RCF runner in configuration
const ProviderName = "rcf"

// ErrCheckpointMissing is returned when the model weights file is absent
var ErrCheckpointMissing = errors.New("rcf: model checkpoint not found")

// Config holds the runner settings
type Config struct {
	// Command is the inference command line, split with shell quoting rules
	Command    string
	Checkpoint string
	Device     string
	// AllowMissingCheckpoint logs a warning instead of failing when the
	// checkpoint is absent; the model then runs with untrained weights
	AllowMissingCheckpoint bool
	Timeout                time.Duration
	Env                    []string
}

// DefaultConfig returns the stock checkpoint on GPU 0
func DefaultConfig() Config {
	return Config{
		Command:    "python -m rcf.test --input {input} --output {output} --checkpoint {checkpoint}",
		Checkpoint: "models/bsds500_pascal_model.pth",
		Device:     "0",
		Timeout:    10 * time.Minute,
	}
}

// Runner invokes the external network
type Runner struct {
	config Config
	logger *zap.SugaredLogger
}

// NewRunner validates the command line and creates a Runner
func NewRunner(config Config, logger *zap.SugaredLogger) (*Runner, error) {
	if strings.TrimSpace(config.Command) == "" {
		return nil, errors.New("rcf: command is empty")
	}
	if _, err := shellwords.Parse(config.Command); err != nil {
		return nil, errors.Wrap(err, "rcf: parse command")
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Runner{config: config, logger: logger}, nil
}

// Name implements edgemap.Provider
func (r *Runner) Name() string {
	return ProviderName
}

// CheckCheckpoint reports a missing checkpoint according to the configured policy
func (r *Runner) CheckCheckpoint() error {
	if utils.FileExists(r.config.Checkpoint) {
		r.logger.Infow("loading checkpoint", "checkpoint", r.config.Checkpoint)
		return nil
	}
	if r.config.AllowMissingCheckpoint {
		r.logger.Warnw("no checkpoint found, running with untrained weights", "checkpoint", r.config.Checkpoint)
		return nil
	}
	return errors.Wrapf(ErrCheckpointMissing, "%s", r.config.Checkpoint)
}

// Generate implements edgemap.Provider
func (r *Runner) Generate(ctx context.Context, inputDir, outputDir string) ([]edgemap.Frame, error) {
	frames, err := edgemap.ListFrames(inputDir, outputDir)
	if err != nil {
		return nil, err
	}
	if err := r.CheckCheckpoint(); err != nil {
		return nil, err
	}
	if err := utils.EnsureDir(outputDir); err != nil {
		return nil, errors.Wrapf(err, "create %s", outputDir)
	}

	args, err := r.args(inputDir, outputDir)
	if err != nil {
		return nil, err
	}

	if r.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.config.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Env = append(os.Environ(), r.config.Env...)
	cmd.Env = append(cmd.Env,
		"CUDA_DEVICE_ORDER=PCI_BUS_ID",
		"CUDA_VISIBLE_DEVICES="+r.config.Device,
	)
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	r.logger.Infow("running edge detection", "provider", ProviderName, "frames", len(frames), "device", r.config.Device)
	start := time.Now()
	if err := cmd.Run(); err != nil {
		return nil, errors.Wrapf(err, "rcf: command failed: %s", tail(output.String(), 20))
	}
	r.logger.Infow("edge detection done", "provider", ProviderName, "elapsed", time.Since(start))

	if err := edgemap.VerifyFrames(frames); err != nil {
		return nil, err
	}
	return frames, nil
}

func (r *Runner) args(inputDir, outputDir string) ([]string, error) {
	args, err := shellwords.Parse(r.config.Command)
	if err != nil {
		return nil, errors.Wrap(err, "rcf: parse command")
	}
	if len(args) == 0 {
		return nil, errors.New("rcf: command is empty")
	}
	repl := strings.NewReplacer(
		"{input}", inputDir,
		"{output}", outputDir,
		"{checkpoint}", r.config.Checkpoint,
		"{device}", r.config.Device,
	)
	for i, a := range args {
		args[i] = repl.Replace(a)
	}
	return args, nil
}

// tail returns the last n lines of s
func tail(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
