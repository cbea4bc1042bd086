package whisper

import (
	"encoding/binary"
	"fmt"
	"os"
)

// whisperSampleRate is the sample rate whisper.cpp expects its input
// samples to already be resampled to. internal/audio's normalizer produces
// exactly this format, so NativeProvider.Transcribe rejects any other rate
// that readWAVMono reports rather than silently resampling.
const whisperSampleRate = 16000

// readWAVMono reads a canonical 16-bit PCM WAV file and returns its samples
// as mono float32 in [-1.0, 1.0], along with the file's sample rate. Only
// the minimal RIFF/WAVE/fmt/data chunk layout produced by ffmpeg's
// `-f wav -acodec pcm_s16le` output is supported.
func readWAVMono(path string) ([]float32, int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, err
	}
	if len(data) < 44 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, 0, fmt.Errorf("%s: not a RIFF/WAVE file", path)
	}

	var (
		channels      int
		sampleRate    int
		bitsPerSample int
		pcm           []byte
		foundFmt      bool
		foundData     bool
	)

	offset := 12
	for offset+8 <= len(data) {
		chunkID := string(data[offset : offset+4])
		chunkSize := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
		body := offset + 8
		if body+chunkSize > len(data) {
			break
		}

		switch chunkID {
		case "fmt ":
			if chunkSize < 16 {
				return nil, 0, fmt.Errorf("%s: fmt chunk too short", path)
			}
			channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			sampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			bitsPerSample = int(binary.LittleEndian.Uint16(data[body+14 : body+16]))
			foundFmt = true
		case "data":
			pcm = data[body : body+chunkSize]
			foundData = true
		}

		// Chunks are word-aligned; skip the pad byte if chunkSize is odd.
		offset = body + chunkSize
		if chunkSize%2 == 1 {
			offset++
		}
	}

	if !foundFmt || !foundData {
		return nil, 0, fmt.Errorf("%s: missing fmt or data chunk", path)
	}
	if bitsPerSample != 16 {
		return nil, 0, fmt.Errorf("%s: unsupported bits-per-sample %d (want 16)", path, bitsPerSample)
	}
	if channels <= 0 {
		channels = 1
	}

	return pcmToFloat32Mono(pcm, channels), sampleRate, nil
}

// pcmToFloat32 converts 16-bit signed little-endian PCM audio to float32
// samples normalised to the range [-1.0, 1.0]. The input length must be
// even (two bytes per sample); any trailing odd byte is silently ignored.
func pcmToFloat32(pcm []byte) []float32 {
	n := len(pcm) / 2
	samples := make([]float32, n)
	for i := range n {
		sample := int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
		samples[i] = float32(sample) / 32768.0
	}
	return samples
}

// pcmToFloat32Mono down-mixes multi-channel 16-bit PCM to mono float32 by
// averaging all channels per frame. If channels is 1 this is equivalent to
// pcmToFloat32.
func pcmToFloat32Mono(pcm []byte, channels int) []float32 {
	if channels <= 1 {
		return pcmToFloat32(pcm)
	}
	samplesPerChannel := len(pcm) / (2 * channels)
	mono := make([]float32, samplesPerChannel)
	for i := range samplesPerChannel {
		var sum float32
		for ch := range channels {
			idx := (i*channels + ch) * 2
			sample := int16(binary.LittleEndian.Uint16(pcm[idx : idx+2]))
			sum += float32(sample) / 32768.0
		}
		mono[i] = sum / float32(channels)
	}
	return mono
}
