package ingest

import (
	"fmt"
	"sort"
	"strings"

	"github.com/OFFIS-RIT/talentgraph/backend/pkg/common"
	"github.com/OFFIS-RIT/talentgraph/backend/pkg/store"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter measures a text the way the extraction model will see it.
type TokenCounter interface {
	Count(text string) int
}

type TiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

func NewTiktokenCounter(encoding string) (*TiktokenCounter, error) {
	if encoding == "" {
		encoding = "o200k_base"
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s encoding: %w", encoding, err)
	}
	return &TiktokenCounter{enc: enc}, nil
}

func (c *TiktokenCounter) Count(text string) int {
	return len(c.enc.Encode(text, nil, nil))
}

// PlanBatches splits chunks[offset:] into contiguous ranges of at most
// batchSize chunks. With a counter and a positive token budget a batch is
// closed early once the next chunk would push it over the budget; a single
// oversize chunk still forms its own batch.
func PlanBatches(chunks []common.Chunk, offset, batchSize, maxTokens int, counter TokenCounter) []common.ChunkRange {
	if batchSize <= 0 {
		batchSize = 1
	}
	if offset < 0 {
		offset = 0
	}
	if counter == nil || maxTokens <= 0 {
		var out []common.ChunkRange
		_ = store.ChunkRange(len(chunks)-offset, batchSize, func(start, end int) error {
			out = append(out, common.ChunkRange{Start: offset + start, End: offset + end})
			return nil
		})
		return out
	}

	var out []common.ChunkRange
	start, tokens := offset, 0
	for i := offset; i < len(chunks); i++ {
		n := counter.Count(FormatChunk(chunks[i]))
		size := i - start
		if size > 0 && (size >= batchSize || tokens+n > maxTokens) {
			out = append(out, common.ChunkRange{Start: start, End: i})
			start, tokens = i, 0
		}
		tokens += n
	}
	if start < len(chunks) {
		out = append(out, common.ChunkRange{Start: start, End: len(chunks)})
	}
	return out
}

// FormatChunk prefixes the chunk content with its metadata so the extractor
// can attribute entities to page, section and profile.
func FormatChunk(c common.Chunk) string {
	id := c.ID
	if id == "" {
		id = "unknown"
	}
	page := "N/A"
	if c.Page > 0 {
		page = fmt.Sprintf("%d", c.Page)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[CHUNK_ID: %s]\n[PAGE: %s]\n", id, page)
	if c.Section != "" {
		fmt.Fprintf(&b, "[SECTION: %s]\n", c.Section)
	}
	if c.Domain != "" {
		fmt.Fprintf(&b, "[DOMAIN: %s]\n", c.Domain)
	}
	if c.JobProfile != "" {
		fmt.Fprintf(&b, "[JOB_PROFILE: %s]\n", c.JobProfile)
	}
	b.WriteString("\n")
	b.WriteString(c.Content)
	return b.String()
}

func fileSource(documentID string, batch int, c common.Chunk) string {
	id := c.ID
	if id == "" {
		id = "unknown"
	}
	return fmt.Sprintf("%s_batch_%d_%s", documentID, batch, id)
}

func buildTexts(documentID string, batch int, chunks []common.Chunk) []store.SubmittedText {
	texts := make([]store.SubmittedText, len(chunks))
	for i, c := range chunks {
		texts[i] = store.SubmittedText{Text: FormatChunk(c), FileSource: fileSource(documentID, batch, c)}
	}
	return texts
}

// indexOfChunk returns the position of the chunk with the given ID.
func indexOfChunk(chunks []common.Chunk, id string) (int, bool) {
	for i, c := range chunks {
		if c.ID == id {
			return i, true
		}
	}
	return 0, false
}

// covered reports whether every index of r lies inside one of ranges.
func covered(r common.ChunkRange, ranges []common.ChunkRange) bool {
	if r.Len() == 0 {
		return true
	}
	sorted := append([]common.ChunkRange(nil), ranges...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })
	next := r.Start
	for _, c := range sorted {
		if c.Start > next {
			break
		}
		if c.End > next {
			next = c.End
		}
		if next >= r.End {
			return true
		}
	}
	return false
}
