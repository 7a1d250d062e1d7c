package pipeline

import "time"

// Defaults applied when configuration leaves a value unset.
const (
	DefaultBatchSize       = 100
	DefaultReviewThreshold = 0.5
	DefaultRunTimeout      = 5 * time.Minute
	DefaultExtractTimeout  = time.Minute
	DefaultPDFExtractions  = 5

	// DefaultModelName is the Gemini model used by the classification assistant.
	DefaultModelName = "gemini-2.5-flash"

	// nearDuplicateWindow bounds how far apart two dates can be for a near-duplicate.
	nearDuplicateWindow = 3 * 24 * time.Hour
	// nearDuplicateDistance is the largest normalized edit distance still flagged.
	nearDuplicateDistance = 0.25
)
