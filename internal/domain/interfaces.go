package domain

import "context"

// OCREngine recognizes text in a single-channel image
type OCREngine interface {
	// Name identifies the engine in logs
	Name() string

	// Check verifies the engine can run (models present, binary reachable)
	Check(ctx context.Context) error

	// Recognize returns the text found in a grayscale PNG
	Recognize(ctx context.Context, grayPNG []byte) (string, error)
}

// EntityRecognizer finds named entities in a batch of texts
type EntityRecognizer interface {
	// Check verifies the engine is reachable
	Check(ctx context.Context) error

	// BatchRecognize returns one entity list per input text, in input order
	BatchRecognize(ctx context.Context, texts []string) ([][]Entity, error)
}

// ResultSink receives finished results, e.g. to fan them out to other services
type ResultSink interface {
	Publish(ctx context.Context, result ProcessingResult) error
}
