// Package video wraps ffmpeg: looping a still into a short video, rescaling
// videos for legacy hardware and grabbing first frames.
package video

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
)

type Transcoder interface {
	// ImageToLoop encodes the image at imagePath as a short looping video.
	ImageToLoop(ctx context.Context, imagePath, videoPath string) error
	// Rescale re-encodes srcPath to width pixels wide, keeping the aspect ratio.
	Rescale(ctx context.Context, srcPath, dstPath string, width int) error
	// FirstFrame returns the first frame of video as PNG data.
	FirstFrame(ctx context.Context, video []byte) ([]byte, error)
}

// TranscodeError is a non-zero ffmpeg exit.
type TranscodeError struct {
	Op       string
	ExitCode int
	Output   string
	Err      error
}

func (e *TranscodeError) Error() string {
	out := strings.TrimSpace(e.Output)
	if len(out) > 2000 {
		out = "..." + out[len(out)-2000:]
	}
	return fmt.Sprintf("ffmpeg %s: exit %d: %v, output: %s", e.Op, e.ExitCode, e.Err, out)
}

func (e *TranscodeError) Unwrap() error {
	return e.Err
}

// FFmpeg implements Transcoder with the ffmpeg binary.
type FFmpeg struct {
	Binary       string
	Encoder      string
	FrameRate    int
	LoopDuration float64
}

func (f *FFmpeg) binary() string {
	if f.Binary == "" {
		return "ffmpeg"
	}
	return f.Binary
}

func (f *FFmpeg) ImageToLoop(ctx context.Context, imagePath, videoPath string) error {
	return f.run(ctx, "loop", f.loopArgs(imagePath, videoPath), nil)
}

func (f *FFmpeg) Rescale(ctx context.Context, srcPath, dstPath string, width int) error {
	return f.run(ctx, "rescale", f.rescaleArgs(srcPath, dstPath, width), nil)
}

func (f *FFmpeg) FirstFrame(ctx context.Context, video []byte) ([]byte, error) {
	// mp4 needs a seekable input for its index, so the video goes to disk.
	tmp, err := os.CreateTemp("", "postersync_frame_*.mp4")
	if err != nil {
		return nil, err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(video); err != nil {
		tmp.Close()
		return nil, err
	}
	if err := tmp.Close(); err != nil {
		return nil, err
	}

	var out bytes.Buffer
	if err := f.run(ctx, "first-frame", frameArgs(tmp.Name()), &out); err != nil {
		return nil, err
	}
	if out.Len() == 0 {
		return nil, &TranscodeError{Op: "first-frame", Err: errors.New("no frame decoded")}
	}
	return out.Bytes(), nil
}

func (f *FFmpeg) loopArgs(imagePath, videoPath string) []string {
	fps := fmt.Sprintf("%d", f.FrameRate)
	args := []string{
		"-y",
		"-framerate", fps,
		"-loop", "1",
		"-t", fmt.Sprintf("%g", f.LoopDuration),
		"-i", imagePath,
	}
	args = append(args, encodeArgs(f.Encoder)...)
	return append(args, "-r", fps, videoPath)
}

func (f *FFmpeg) rescaleArgs(srcPath, dstPath string, width int) []string {
	args := []string{
		"-y",
		"-i", srcPath,
		// -2 keeps the height even, as yuv420p requires.
		"-vf", fmt.Sprintf("scale=%d:-2", width),
	}
	args = append(args, encodeArgs(f.Encoder)...)
	return append(args, "-r", fmt.Sprintf("%d", f.FrameRate), dstPath)
}

func frameArgs(videoPath string) []string {
	return []string{
		"-v", "error",
		"-i", videoPath,
		"-frames:v", "1",
		"-f", "image2pipe",
		"-c:v", "png",
		"-",
	}
}

func encodeArgs(encoder string) []string {
	if encoder == "" {
		encoder = "libx264"
	}
	args := []string{"-c:v", encoder, "-pix_fmt", "yuv420p"}
	switch encoder {
	case "h264_videotoolbox":
		args = append(args, "-b:v", "7500k")
	case "h264_nvenc":
		args = append(args, "-cq", "28")
	}
	return args
}

func (f *FFmpeg) run(ctx context.Context, op string, args []string, stdout io.Writer) error {
	cmd := exec.CommandContext(ctx, f.binary(), args...)
	var diag bytes.Buffer
	cmd.Stderr = &diag
	if stdout != nil {
		cmd.Stdout = stdout
	} else {
		cmd.Stdout = &diag
	}
	if err := cmd.Run(); err != nil {
		te := &TranscodeError{Op: op, ExitCode: -1, Output: diag.String(), Err: err}
		var ee *exec.ExitError
		if errors.As(err, &ee) {
			te.ExitCode = ee.ExitCode()
		}
		return te
	}
	return nil
}
