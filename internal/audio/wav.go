package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// WAVHeader represents the header structure of a canonical 44-byte WAV file
type WAVHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // File size - 8 bytes
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16  // Number of channels
	SampleRate    uint32  // Sample rate
	ByteRate      uint32  // SampleRate * NumChannels * BitsPerSample / 8
	BlockAlign    uint16  // NumChannels * BitsPerSample / 8
	BitsPerSample uint16  // Bits per sample
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32  // Number of bytes in the data
}

const (
	wavHeaderSize = 44
	pcmFormat     = 1
	// streamingSize is written by encoders that cannot seek back to patch sizes
	streamingSize = 0xFFFFFFFF
)

// WAVInfo describes the fmt and data chunks of a WAV file
type WAVInfo struct {
	SampleRate    uint32  `json:"sample_rate"`
	Channels      uint16  `json:"channels"`
	BitsPerSample uint16  `json:"bits_per_sample"`
	AudioFormat   uint16  `json:"audio_format"`
	Duration      float64 `json:"duration_seconds"`
	DataSize      uint32  `json:"data_size_bytes"`
	NumSamples    uint32  `json:"num_samples"`

	dataOffset int
}

// EncodeWAV encodes mono PCM-16 samples into WAV format
func EncodeWAV(samples []int16, sampleRate int) ([]byte, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("cannot encode empty audio samples")
	}

	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}

	numChannels := uint16(1)
	bitsPerSample := uint16(16)
	dataSize := uint32(len(samples) * 2)

	header := WAVHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   pcmFormat,
		NumChannels:   numChannels,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate) * uint32(numChannels) * uint32(bitsPerSample) / 8,
		BlockAlign:    numChannels * bitsPerSample / 8,
		BitsPerSample: bitsPerSample,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}

	buf := bytes.NewBuffer(make([]byte, 0, wavHeaderSize+len(samples)*2))

	if err := binary.Write(buf, binary.LittleEndian, header); err != nil {
		return nil, fmt.Errorf("failed to write WAV header: %w", err)
	}

	if err := binary.Write(buf, binary.LittleEndian, samples); err != nil {
		return nil, fmt.Errorf("failed to write audio data: %w", err)
	}

	return buf.Bytes(), nil
}

// GetWAVInfo walks the RIFF chunks and extracts format metadata.
// Unknown chunks (LIST, fact, ...) are skipped and a streaming-size data chunk
// is clamped to the bytes actually present.
func GetWAVInfo(data []byte) (*WAVInfo, error) {
	if len(data) < 12 {
		return nil, fmt.Errorf("WAV data too short: need at least 12 bytes, got %d", len(data))
	}

	if string(data[0:4]) != "RIFF" {
		return nil, fmt.Errorf("invalid WAV file: missing RIFF header")
	}

	if string(data[8:12]) != "WAVE" {
		return nil, fmt.Errorf("invalid WAV file: missing WAVE format")
	}

	info := &WAVInfo{}
	haveFmt := false
	offset := 12

	for offset+8 <= len(data) {
		id := string(data[offset : offset+4])
		size := binary.LittleEndian.Uint32(data[offset+4 : offset+8])
		body := offset + 8

		switch id {
		case "fmt ":
			if size < 16 || body+16 > len(data) {
				return nil, fmt.Errorf("invalid WAV file: truncated fmt chunk")
			}
			info.AudioFormat = binary.LittleEndian.Uint16(data[body : body+2])
			info.Channels = binary.LittleEndian.Uint16(data[body+2 : body+4])
			info.SampleRate = binary.LittleEndian.Uint32(data[body+4 : body+8])
			info.BitsPerSample = binary.LittleEndian.Uint16(data[body+14 : body+16])
			haveFmt = true

		case "data":
			if !haveFmt {
				return nil, fmt.Errorf("invalid WAV file: data chunk before fmt chunk")
			}
			available := uint32(len(data) - body)
			if size == streamingSize || size == 0 || size > available {
				size = available
			}
			info.dataOffset = body
			info.DataSize = size
			return info.finish()
		}

		next := body + int(size)
		if size%2 == 1 {
			next++
		}
		if next <= offset {
			break
		}
		offset = next
	}

	if !haveFmt {
		return nil, fmt.Errorf("invalid WAV file: missing fmt chunk")
	}
	return nil, fmt.Errorf("invalid WAV file: missing data chunk")
}

func (i *WAVInfo) finish() (*WAVInfo, error) {
	if i.SampleRate == 0 {
		return nil, fmt.Errorf("invalid sample rate: 0")
	}

	if i.Channels == 0 {
		return nil, fmt.Errorf("invalid channel count: 0")
	}

	bytesPerFrame := uint32(i.BitsPerSample) / 8 * uint32(i.Channels)
	if bytesPerFrame == 0 {
		return nil, fmt.Errorf("invalid bit depth: %d", i.BitsPerSample)
	}

	i.DataSize -= i.DataSize % bytesPerFrame
	i.NumSamples = i.DataSize / bytesPerFrame
	i.Duration = float64(i.NumSamples) / float64(i.SampleRate)

	return i, nil
}

// DecodeWAV decodes PCM-16 WAV data into mono samples, averaging channels
// when the file is multi-channel.
func DecodeWAV(data []byte) ([]int16, int, error) {
	info, err := GetWAVInfo(data)
	if err != nil {
		return nil, 0, err
	}

	if info.AudioFormat != pcmFormat {
		return nil, 0, fmt.Errorf("unsupported audio format: %d (only PCM is supported)", info.AudioFormat)
	}

	if info.BitsPerSample != 16 {
		return nil, 0, fmt.Errorf("unsupported bit depth: %d (only 16-bit is supported)", info.BitsPerSample)
	}

	if info.NumSamples == 0 {
		return nil, 0, fmt.Errorf("no audio data found")
	}

	raw := data[info.dataOffset : info.dataOffset+int(info.DataSize)]
	channels := int(info.Channels)
	samples := make([]int16, info.NumSamples)

	for i := range samples {
		var sum int32
		for c := 0; c < channels; c++ {
			pos := (i*channels + c) * 2
			sum += int32(int16(binary.LittleEndian.Uint16(raw[pos : pos+2])))
		}
		samples[i] = int16(sum / int32(channels))
	}

	return samples, int(info.SampleRate), nil
}

// ValidateWAV validates a WAV file format without decoding the audio data
func ValidateWAV(data []byte) error {
	_, err := GetWAVInfo(data)
	return err
}

// GetWAVDuration calculates the duration of a WAV file in seconds
func GetWAVDuration(data []byte) (float64, error) {
	info, err := GetWAVInfo(data)
	if err != nil {
		return 0, err
	}
	return info.Duration, nil
}

// IsCanonicalWAV reports whether data is mono PCM-16 WAV at the given sample rate
func IsCanonicalWAV(data []byte, sampleRate int) bool {
	info, err := GetWAVInfo(data)
	if err != nil {
		return false
	}

	return info.AudioFormat == pcmFormat &&
		info.BitsPerSample == 16 &&
		info.Channels == 1 &&
		int(info.SampleRate) == sampleRate &&
		info.NumSamples > 0
}
