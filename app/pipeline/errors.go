package pipeline

import (
	"errors"

	"github.com/lysyi3m/research-digest/app/content"
	"github.com/lysyi3m/research-digest/app/papers"
	"github.com/lysyi3m/research-digest/app/synth"
)

var (
	ErrBusy             = errors.New("pipeline busy")
	ErrNoRelevantPapers = errors.New("no relevant papers")
	ErrStorageFailure   = errors.New("storage failure")
)

// Reason is the failure name recorded against a run and reported to callers
type Reason string

const (
	ReasonNone                  Reason = ""
	ReasonSourceUnavailable     Reason = "SourceUnavailable"
	ReasonGenerationUnavailable Reason = "GenerationUnavailable"
	ReasonGenerationEmpty       Reason = "GenerationEmpty"
	ReasonMalformedContent      Reason = "MalformedContent"
	ReasonNoRelevantPapers      Reason = "NoRelevantPapers"
	ReasonBusy                  Reason = "PipelineBusy"
	ReasonStorageFailure        Reason = "StorageFailure"
	ReasonInternal              Reason = "Internal"
)

func ReasonOf(err error) Reason {
	switch {
	case err == nil:
		return ReasonNone
	case errors.Is(err, ErrBusy):
		return ReasonBusy
	case errors.Is(err, ErrNoRelevantPapers):
		return ReasonNoRelevantPapers
	case errors.Is(err, ErrStorageFailure):
		return ReasonStorageFailure
	case errors.Is(err, papers.ErrSourceUnavailable):
		return ReasonSourceUnavailable
	case errors.Is(err, synth.ErrGenerationEmpty):
		return ReasonGenerationEmpty
	case errors.Is(err, synth.ErrGenerationUnavailable):
		return ReasonGenerationUnavailable
	case errors.Is(err, content.ErrMalformedContent):
		return ReasonMalformedContent
	default:
		return ReasonInternal
	}
}
