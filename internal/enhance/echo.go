package enhance

// Echo cancellation is a separate entry point, not part of the default
// enhancement pipeline: callers that play reference audio (a speaker feed)
// while capturing can subtract its echo from the microphone signal.

const (
	// echoFilterTaps is the maximum adaptive filter length.
	echoFilterTaps = 128

	// echoStepSize is the LMS adaptation rate μ.
	echoStepSize = 0.001

	// nlmsEpsilon keeps the normalised update stable when the reference
	// window is near-silent.
	nlmsEpsilon = 1e-6
)

// CancelEcho subtracts the echo of reference from primary using a normalised
// least-mean-squares adaptive filter: for each sample the filter predicts
// the echo from the recent reference history, subtracts the prediction, and
// updates its coefficients from the residual. Both inputs are 16-bit LE mono
// PCM; the returned buffer has the length of primary.
//
// If reference is empty, primary is returned unchanged.
func CancelEcho(primary, reference []byte) []byte {
	if len(reference) < 2 || len(primary) < 2 {
		return primary
	}

	d := pcmToFloat(primary)
	x := pcmToFloat(reference)

	taps := echoFilterTaps
	if taps > len(x) {
		taps = len(x)
	}
	w := make([]float64, taps)

	out := make([]float64, len(d))
	for n := range d {
		// Predict the echo from the reference history ending at n.
		var pred, power float64
		for k := 0; k < taps; k++ {
			idx := n - k
			if idx < 0 || idx >= len(x) {
				continue
			}
			pred += w[k] * x[idx]
			power += x[idx] * x[idx]
		}

		e := d[n] - pred
		out[n] = e

		// Normalised coefficient update.
		step := echoStepSize / (nlmsEpsilon + power)
		for k := 0; k < taps; k++ {
			idx := n - k
			if idx < 0 || idx >= len(x) {
				continue
			}
			w[k] += step * e * x[idx]
		}
	}

	return floatToPCM(out)
}
