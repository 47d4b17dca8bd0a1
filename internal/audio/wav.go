package audio

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// EncodeWAV wraps a raw PCM16LE clip in a WAV container.
func EncodeWAV(clip Clip) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteWAVTo(&buf, clip); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeWAV parses a PCM16LE WAV container back into a clip. Unknown chunks
// are skipped; only uncompressed 16-bit PCM is accepted.
func DecodeWAV(data []byte) (Clip, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return Clip{}, fmt.Errorf("not a RIFF/WAVE container")
	}

	var clip Clip
	sawFmt := false
	offset := 12
	for offset+8 <= len(data) {
		chunkID := string(data[offset : offset+4])
		chunkSize := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
		body := offset + 8
		if body+chunkSize > len(data) {
			return Clip{}, fmt.Errorf("truncated %q chunk", chunkID)
		}
		switch chunkID {
		case "fmt ":
			if chunkSize < 16 {
				return Clip{}, fmt.Errorf("fmt chunk too short: %d bytes", chunkSize)
			}
			format := binary.LittleEndian.Uint16(data[body : body+2])
			if format != 1 {
				return Clip{}, fmt.Errorf("unsupported audio format %d, expected PCM", format)
			}
			bits := binary.LittleEndian.Uint16(data[body+14 : body+16])
			if bits != 16 {
				return Clip{}, fmt.Errorf("unsupported bit depth %d, expected 16", bits)
			}
			clip.Channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			clip.SampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			sawFmt = true
		case "data":
			clip.PCM = append([]byte(nil), data[body:body+chunkSize]...)
		}
		// Chunks are word aligned.
		offset = body + chunkSize + chunkSize%2
	}

	if !sawFmt {
		return Clip{}, fmt.Errorf("missing fmt chunk")
	}
	if clip.SampleRate <= 0 || clip.Channels <= 0 {
		return Clip{}, fmt.Errorf("invalid format: %dHz/%dch", clip.SampleRate, clip.Channels)
	}
	return clip, nil
}

// WriteWAVFile writes a raw PCM16LE clip as a WAV file.
func WriteWAVFile(path string, clip Clip) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return WriteWAVTo(f, clip)
}

// WriteWAVTo writes a raw PCM16LE clip to out as a WAV stream.
func WriteWAVTo(out io.Writer, clip Clip) error {
	const (
		bitsPerSample = 16
		audioFormat   = 1 // PCM
	)
	if clip.SampleRate <= 0 {
		return fmt.Errorf("invalid sample rate %d", clip.SampleRate)
	}
	if clip.Channels <= 0 {
		return fmt.Errorf("invalid channel count %d", clip.Channels)
	}

	dataSize := uint32(len(clip.PCM))
	byteRate := uint32(clip.SampleRate * clip.Channels * bitsPerSample / 8)
	blockAlign := uint16(clip.Channels * bitsPerSample / 8)

	w := bufio.NewWriter(out)

	// RIFF header.
	if _, err := w.WriteString("RIFF"); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(36)+dataSize); err != nil {
		return err
	}
	if _, err := w.WriteString("WAVE"); err != nil {
		return err
	}

	// fmt chunk.
	if _, err := w.WriteString("fmt "); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(16)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint16(audioFormat)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint16(clip.Channels)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(clip.SampleRate)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, byteRate); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, blockAlign); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint16(bitsPerSample)); err != nil {
		return err
	}

	// data chunk.
	if _, err := w.WriteString("data"); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, dataSize); err != nil {
		return err
	}
	if _, err := w.Write(clip.PCM); err != nil {
		return err
	}
	return w.Flush()
}
