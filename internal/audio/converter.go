package audio

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

// Codec names accepted from media hosts
const (
	CodecL16  = "L16"
	CodecPCMU = "PCMU"
)

const mulawBias = 0x84

// mulawTable maps every μ-law byte to its linear value
var mulawTable [256]int16

func init() {
	for i := range mulawTable {
		mulawTable[i] = mulawToLinear(byte(i))
	}
}

// SupportedCodec reports whether ToLinear16 can decode codec
func SupportedCodec(codec string) bool {
	switch strings.ToUpper(codec) {
	case "", CodecL16, CodecPCMU:
		return true
	}
	return false
}

// ToLinear16 decodes a host audio frame in codec into 16-bit linear PCM.
// An empty codec is taken as L16.
func ToLinear16(data []byte, codec string) ([]byte, error) {
	switch strings.ToUpper(codec) {
	case "", CodecL16:
		if len(data)%2 != 0 {
			return nil, fmt.Errorf("L16 frame has odd length %d", len(data))
		}
		return data, nil
	case CodecPCMU:
		return ConvertPCMUToPCM(data)
	default:
		return nil, fmt.Errorf("unsupported codec %q", codec)
	}
}

// BytesToSamples converts 16-bit little-endian PCM into samples.
// A trailing odd byte is ignored.
func BytesToSamples(pcmData []byte) []int16 {
	samples := make([]int16, len(pcmData)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(pcmData[i*2:]))
	}
	return samples
}

// SamplesToBytes converts samples into 16-bit little-endian PCM
func SamplesToBytes(samples []int16) []byte {
	pcmData := make([]byte, len(samples)*2)
	for i, sample := range samples {
		binary.LittleEndian.PutUint16(pcmData[i*2:], uint16(sample))
	}
	return pcmData
}

// ResamplePCM resamples 16-bit little-endian PCM from inputRate to outputRate
func ResamplePCM(pcmData []byte, inputRate, outputRate int) ([]byte, error) {
	if len(pcmData)%2 != 0 {
		return nil, fmt.Errorf("PCM data length must be even (16-bit samples)")
	}
	if inputRate <= 0 || outputRate <= 0 {
		return nil, fmt.Errorf("invalid sample rates %d -> %d", inputRate, outputRate)
	}
	if inputRate == outputRate {
		return pcmData, nil
	}
	return SamplesToBytes(resample(BytesToSamples(pcmData), inputRate, outputRate)), nil
}

// resample performs simple linear interpolation resampling
func resample(samples []int16, inputRate, outputRate int) []int16 {
	if inputRate == outputRate || len(samples) == 0 {
		return samples
	}

	ratio := float64(outputRate) / float64(inputRate)
	outputLength := int(float64(len(samples)) * ratio)
	output := make([]int16, outputLength)

	for i := 0; i < outputLength; i++ {
		srcPos := float64(i) / ratio

		idx0 := int(srcPos)
		idx1 := idx0 + 1
		if idx1 >= len(samples) {
			idx1 = len(samples) - 1
		}

		fraction := srcPos - float64(idx0)
		output[i] = int16(float64(samples[idx0])*(1.0-fraction) + float64(samples[idx1])*fraction)
	}

	return output
}

// ConvertPCMUToPCM converts G.711 PCMU (μ-law) to 16-bit linear PCM
func ConvertPCMUToPCM(pcmuData []byte) ([]byte, error) {
	if len(pcmuData) == 0 {
		return nil, fmt.Errorf("empty PCMU data")
	}

	pcmData := make([]byte, len(pcmuData)*2)
	for i, mulawByte := range pcmuData {
		binary.LittleEndian.PutUint16(pcmData[i*2:], uint16(mulawTable[mulawByte]))
	}

	return pcmData, nil
}

// mulawToLinear expands an 8-bit μ-law sample to full-scale 16-bit linear PCM
func mulawToLinear(mulawByte byte) int16 {
	// μ-law is stored inverted
	mulawByte = ^mulawByte

	sign := mulawByte & 0x80
	segment := (mulawByte >> 4) & 0x07
	mantissa := int32(mulawByte & 0x0F)

	// Biased magnitude, peak 32124
	magnitude := ((mantissa<<3)+mulawBias)<<segment - mulawBias

	if sign != 0 {
		return int16(-magnitude)
	}
	return int16(magnitude)
}

// CalculateRMS calculates the root mean square (RMS) of audio samples
func CalculateRMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0.0
	}

	sum := 0.0
	for _, sample := range samples {
		sum += float64(sample) * float64(sample)
	}

	return math.Sqrt(sum / float64(len(samples)))
}
