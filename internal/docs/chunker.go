package docs

import (
	"strings"
	"unicode/utf8"
)

const paragraphSep = "\n\n"

// ChunkOptions configures the chunker.
type ChunkOptions struct {
	// ChunkSize is the target size for each chunk in characters.
	ChunkSize int

	// ChunkOverlap is the number of characters repeated from the end of one
	// chunk at the start of the next.
	ChunkOverlap int

	// MinChunkSize is the minimum size of a trailing chunk. Smaller ones are
	// merged into their predecessor.
	MinChunkSize int
}

// DefaultChunkOptions returns sensible defaults for chunking.
func DefaultChunkOptions() ChunkOptions {
	return ChunkOptions{
		ChunkSize:    1500,
		ChunkOverlap: 200,
		MinChunkSize: 100,
	}
}

// Chunk is a piece of a file.
type Chunk struct {
	Content string
	Index   int
}

// Chunker splits text into paragraph-aligned chunks with overlap.
type Chunker struct {
	opts ChunkOptions
}

// NewChunker creates a chunker, applying defaults for unset sizes.
func NewChunker(opts ChunkOptions) *Chunker {
	def := DefaultChunkOptions()
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = def.ChunkSize
	}
	if opts.ChunkOverlap < 0 {
		opts.ChunkOverlap = 0
	}
	if opts.ChunkOverlap >= opts.ChunkSize {
		opts.ChunkOverlap = opts.ChunkSize / 4
	}
	if opts.MinChunkSize <= 0 {
		opts.MinChunkSize = def.MinChunkSize
	}
	return &Chunker{opts: opts}
}

// Chunk splits content. Blank content yields no chunks.
func (c *Chunker) Chunk(content string) []Chunk {
	units := c.units(content)
	if len(units) == 0 {
		return nil
	}

	var chunks []Chunk
	var current []string
	size := 0
	carried := 0

	for _, u := range units {
		n := runeLen(u)
		if len(current) > 0 && size+len(paragraphSep)+n > c.opts.ChunkSize {
			chunks = append(chunks, Chunk{Content: strings.Join(current, paragraphSep), Index: len(chunks)})
			current, size = c.overlap(current)
			carried = len(current)
		}
		if len(current) > 0 {
			size += len(paragraphSep)
		}
		current = append(current, u)
		size += n
	}

	if len(current) > 0 {
		last := strings.Join(current, paragraphSep)
		if len(chunks) == 0 || runeLen(last) >= c.opts.MinChunkSize {
			chunks = append(chunks, Chunk{Content: last, Index: len(chunks)})
		} else {
			prev := &chunks[len(chunks)-1]
			if fresh := current[carried:]; len(fresh) > 0 {
				prev.Content += paragraphSep + strings.Join(fresh, paragraphSep)
			}
		}
	}

	return chunks
}

// units splits content into paragraphs, breaking any paragraph longer than
// the chunk size at line and then character boundaries.
func (c *Chunker) units(content string) []string {
	content = strings.ReplaceAll(content, "\r\n", "\n")

	var units []string
	for _, para := range strings.Split(content, paragraphSep) {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if runeLen(para) <= c.opts.ChunkSize {
			units = append(units, para)
			continue
		}
		for _, line := range strings.Split(para, "\n") {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			units = append(units, splitRunes(line, c.opts.ChunkSize)...)
		}
	}
	return units
}

// overlap returns the trailing units of a finished chunk that fit within the
// overlap budget. The first unit is never carried over so every chunk makes
// progress.
func (c *Chunker) overlap(units []string) ([]string, int) {
	if c.opts.ChunkOverlap == 0 {
		return nil, 0
	}

	start := len(units)
	size := 0
	for i := len(units) - 1; i >= 1; i-- {
		n := runeLen(units[i])
		if size > 0 {
			n += len(paragraphSep)
		}
		if size+n > c.opts.ChunkOverlap {
			break
		}
		size += n
		start = i
	}

	out := make([]string, len(units)-start)
	copy(out, units[start:])
	return out, size
}

func splitRunes(s string, size int) []string {
	r := []rune(s)
	var out []string
	for len(r) > size {
		out = append(out, string(r[:size]))
		r = r[size:]
	}
	if len(r) > 0 {
		out = append(out, string(r))
	}
	return out
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}
