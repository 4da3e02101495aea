package sources

// Parser exposes the file parsers as methods so callers can depend on an
// interface and substitute fixed plans in tests.
type Parser struct{}

func (Parser) ExtractLink(path string, dayOfMonth int) (string, bool, error) {
	return ExtractLink(path, dayOfMonth)
}

func (Parser) ExtractPool(path string) ([]string, error) { return ExtractPool(path) }
