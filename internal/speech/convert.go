package speech

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Converter normalises recordings to 16 kHz mono WAV with ffmpeg.
type Converter struct {
	Bin     string
	Enabled bool
	WorkDir string
}

// Convert returns the path to analyse and whether a new file was created.
// A created file belongs to the caller and must be removed by it.
func (c Converter) Convert(ctx context.Context, src string) (string, bool, error) {
	if !c.Enabled || c.Bin == "" || strings.EqualFold(filepath.Ext(src), ".wav") {
		return src, false, nil
	}
	dir := c.WorkDir
	if dir == "" {
		dir = filepath.Dir(src)
	}
	base := strings.TrimSuffix(filepath.Base(src), filepath.Ext(src))
	dst := filepath.Join(dir, base+".wav")
	cmd := exec.CommandContext(ctx, c.Bin, "-hide_banner", "-loglevel", "error", "-y", "-i", src, "-ac", "1", "-ar", "16000", dst)
	if out, err := cmd.CombinedOutput(); err != nil {
		_ = os.Remove(dst)
		return "", false, fmt.Errorf("ffmpeg %s: %w: %s", filepath.Base(src), err, strings.TrimSpace(string(out)))
	}
	return dst, true, nil
}
