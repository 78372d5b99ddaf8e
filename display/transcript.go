package display

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/d1nch8g/livecaption/engine"
)

// WriteTranscript writes one "[mm:ss] text" line per committed caption.
func WriteTranscript(w io.Writer, lines []engine.Line) error {
	bw := bufio.NewWriter(w)
	for _, l := range lines {
		if _, err := fmt.Fprintf(bw, "[%s] %s\n", clock(l.Offset), l.Text); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// SaveTranscript writes the transcript to path, replacing any existing file.
func SaveTranscript(path string, lines []engine.Line) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create transcript: %w", err)
	}
	if err := WriteTranscript(f, lines); err != nil {
		f.Close()
		return fmt.Errorf("write transcript: %w", err)
	}
	return f.Close()
}

func clock(d time.Duration) string {
	d = d.Round(time.Second)
	h := int(d / time.Hour)
	m := int(d/time.Minute) % 60
	s := int(d/time.Second) % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}
