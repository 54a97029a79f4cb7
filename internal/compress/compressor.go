// Package compress implements random token-subset compression.
//
// DESIGN: Text is tokenized with the upstream model's tiktoken encoding, a
// uniform random subset of token positions is retained in original order,
// and the subset is decoded back to text. Compression is fail-open: any
// tokenizer error degrades to the original text, never to a request failure.
package compress

import (
	"fmt"
	"math"
	"math/rand"
	"slices"
	"strings"

	"github.com/pkoukk/tiktoken-go"
	"github.com/rs/zerolog/log"

	"github.com/tokentrim/gateway/internal/config"
)

// Record describes one compression of one message, for the observability sink.
type Record struct {
	RequestID        string  `json:"request_id"`
	MessageIndex     int     `json:"message_index"`
	OriginalText     string  `json:"original_text"`
	CompressedText   string  `json:"compressed_text"`
	OriginalTokens   int     `json:"original_tokens"`
	CompressedTokens int     `json:"compressed_tokens"`
	KeepFraction     float64 `json:"keep_fraction"`
}

// Sink receives compression records. Implementations must tolerate
// concurrent calls; failures must not affect request handling.
type Sink interface {
	RecordCompression(rec Record)
}

// Result reports what a single Compress call did.
type Result struct {
	Text             string
	OriginalTokens   int
	CompressedTokens int
	Compressed       bool
	// Failed is set when tokenization failed and Text is the original input.
	Failed bool
}

// Compressor removes a random fraction of tokens from text.
//
// The tiktoken encoding is loaded once and shared: encodings are immutable
// after construction and safe for concurrent use. Randomness comes from the
// math/rand top-level source, which is safe for concurrent callers, so
// every Compress call draws independently with no shared seed.
type Compressor struct {
	enc  *tiktoken.Tiktoken
	sink Sink
}

// New creates a Compressor using the cl100k_base encoding.
// sink may be nil when no observability sink is configured.
func New(sink Sink) (*Compressor, error) {
	enc, err := tiktoken.GetEncoding(config.TokenizerEncoding)
	if err != nil {
		return nil, err
	}
	return &Compressor{enc: enc, sink: sink}, nil
}

// Compress returns text with a random subset of its tokens retained.
//
// keepFraction must be in (0, 1]. A fraction of 1.0 is an explicit identity
// fast path with no tokenization cost. The retained token count is
// max(1, round(N*keepFraction)) where round is half-away-from-zero
// (math.Round); surviving tokens keep their original relative order.
func (c *Compressor) Compress(text string, keepFraction float64) Result {
	if keepFraction >= 1.0 || text == "" {
		return Result{Text: text}
	}

	res, err := c.compress(text, keepFraction)
	if err != nil {
		log.Warn().Err(err).
			Int("text_len", len(text)).
			Float64("keep_fraction", keepFraction).
			Msg("compression failed, forwarding original text")
		return Result{Text: text, Failed: true}
	}
	return res
}

// CompressMessage compresses one chat message and reports it to the sink.
// requestID and index identify the message within its request for diagnostics.
func (c *Compressor) CompressMessage(requestID string, index int, text string, keepFraction float64) Result {
	res := c.Compress(text, keepFraction)
	if res.Compressed && c.sink != nil {
		c.sink.RecordCompression(Record{
			RequestID:        requestID,
			MessageIndex:     index,
			OriginalText:     text,
			CompressedText:   res.Text,
			OriginalTokens:   res.OriginalTokens,
			CompressedTokens: res.CompressedTokens,
			KeepFraction:     keepFraction,
		})
	}
	return res
}

func (c *Compressor) compress(text string, keepFraction float64) (res Result, err error) {
	// tiktoken panics on some malformed inputs; recover into the fail-open path.
	defer func() {
		if r := recover(); r != nil {
			res = Result{}
			err = &tokenizerPanicError{value: r}
		}
	}()

	// Allow special tokens so user text containing them encodes instead of
	// aborting the request.
	tokens := c.enc.Encode(text, []string{"all"}, nil)
	n := len(tokens)
	if n == 0 {
		return Result{Text: text}, nil
	}

	keepCount := int(math.Round(float64(n) * keepFraction))
	if keepCount < 1 {
		keepCount = 1
	}
	if keepCount >= n {
		// Nothing to remove; skip the decode round trip.
		return Result{Text: text, OriginalTokens: n, CompressedTokens: n}, nil
	}

	// Uniform sample without replacement, then restore original order.
	positions := rand.Perm(n)[:keepCount]
	slices.Sort(positions)

	retained := make([]int, keepCount)
	for i, p := range positions {
		retained[i] = tokens[p]
	}

	out := c.enc.Decode(retained)
	if strings.TrimSpace(out) == "" {
		// A subset of whitespace-only tokens is worse than no compression.
		log.Warn().Int("tokens", n).Msg("compression produced empty text, forwarding original")
		return Result{Text: text, OriginalTokens: n, CompressedTokens: n}, nil
	}

	return Result{
		Text:             out,
		OriginalTokens:   n,
		CompressedTokens: keepCount,
		Compressed:       true,
	}, nil
}

type tokenizerPanicError struct {
	value any
}

func (e *tokenizerPanicError) Error() string {
	return fmt.Sprintf("tokenizer panic: %v", e.value)
}
