package pipeline

// Stage tags prefix every unit of pipeline output so clients can attribute
// text to the stage that produced it.
const (
	TagPreprocessor = "PREPROCESSOR"
	TagPlanner      = "PLANNER"
	TagMaker        = "MAKER"
	TagCoder        = "CODER"
	TagReviewer     = "REVIEWER"
	TagResult       = "RESULT"
	TagError        = "ERROR"
)

// StreamUnit is one tagged piece of pipeline output.
type StreamUnit struct {
	Stage   string
	Content string
}

// Emitter receives stream units as the pipeline produces them. Emitters
// must not block for long; the API layer buffers into the SSE writer.
type Emitter func(StreamUnit)

// discard is used when the caller does not consume the stream (resume of
// a background task).
func discard(StreamUnit) {}

// Text formats the unit for plain-text transport: "[STAGE] content".
func (u StreamUnit) Text() string {
	return "[" + u.Stage + "] " + u.Content
}
