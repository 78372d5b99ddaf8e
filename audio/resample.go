package audio

import "math"

// Resample converts mono samples from srcRate to dstRate using linear
// interpolation over a uniform time grid. The output holds
// floor(len(samples)/srcRate*dstRate) samples; when that is one sample or
// fewer the result is empty. Equal rates return the input unchanged.
func Resample(samples []float32, srcRate, dstRate int) []float32 {
	if srcRate == dstRate {
		return samples
	}
	if len(samples) == 0 || srcRate <= 0 || dstRate <= 0 {
		return []float32{}
	}

	duration := float64(len(samples)) / float64(srcRate)
	n := int(math.Floor(duration * float64(dstRate)))
	if n <= 1 {
		return []float32{}
	}

	out := make([]float32, n)
	last := len(samples) - 1
	step := float64(last) / float64(n-1)
	for i := range out {
		pos := float64(i) * step
		j := int(pos)
		if j >= last {
			out[i] = samples[last]
			continue
		}
		frac := float32(pos - float64(j))
		out[i] = samples[j] + (samples[j+1]-samples[j])*frac
	}
	return out
}

// ToMono averages interleaved channels into a single channel.
func ToMono(samples []float32, channels int) []float32 {
	if channels <= 1 {
		return samples
	}
	n := len(samples) / channels
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		var sum float32
		base := i * channels
		for c := 0; c < channels; c++ {
			sum += samples[base+c]
		}
		out[i] = sum / float32(channels)
	}
	return out
}

// Prepare downmixes f to mono and resamples it to dstRate. Downmixing first
// means only one channel is interpolated. The resampler runs only when the
// rates differ.
func Prepare(f Frame, dstRate int) []float32 {
	mono := ToMono(f.Samples, f.Channels)
	if f.SampleRate == dstRate {
		return mono
	}
	return Resample(mono, f.SampleRate, dstRate)
}
