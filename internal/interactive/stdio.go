package interactive

import (
	"fmt"
	"os"
)

// stdio holds both ends of the three pipes for one child. The registry owns
// every descriptor, so each one is closed on every path.
type stdio struct {
	stdin    *os.File
	stdout   *os.File
	stderr   *os.File
	childIn  *os.File
	childOut *os.File
	childErr *os.File
}

func openStdio() (*stdio, error) {
	s := &stdio{}
	var err error
	if s.childIn, s.stdin, err = os.Pipe(); err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	if s.stdout, s.childOut, err = os.Pipe(); err != nil {
		s.closeAll()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	if s.stderr, s.childErr, err = os.Pipe(); err != nil {
		s.closeAll()
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	return s, nil
}

// closeChild closes the ends handed to the child process.
func (s *stdio) closeChild() {
	closeFiles(s.childIn, s.childOut, s.childErr)
}

// closeParent closes the ends the registry reads and writes.
func (s *stdio) closeParent() {
	closeFiles(s.stdin, s.stdout, s.stderr)
}

func (s *stdio) closeAll() {
	s.closeChild()
	s.closeParent()
}

func closeFiles(files ...*os.File) {
	for _, f := range files {
		if f != nil {
			f.Close()
		}
	}
}
