package train

// Mode selects the execution behavior of a model's forward pass.
type Mode int

const (
	// ModeTrain runs the forward pass for gradient computation.
	ModeTrain Mode = iota
	// ModeEval runs the forward pass for loss and metric reporting.
	ModeEval
	// ModePredict runs the forward pass for decoding only; labels are not
	// consulted.
	ModePredict
)

// String returns the mode name.
func (m Mode) String() string {
	switch m {
	case ModeTrain:
		return "train"
	case ModeEval:
		return "eval"
	case ModePredict:
		return "predict"
	default:
		return "unknown"
	}
}
