package store

import (
	"bufio"
	"io"

	"github.com/coolbeans/exocortex/pkg/rdf"
)

// WriteNTriples writes one N-Triples statement per line.
func WriteNTriples(w io.Writer, triples []rdf.Triple) error {
	buffered := bufio.NewWriter(w)
	for _, triple := range triples {
		if _, err := buffered.WriteString(triple.NTriples()); err != nil {
			return err
		}
		if err := buffered.WriteByte('\n'); err != nil {
			return err
		}
	}
	return buffered.Flush()
}
