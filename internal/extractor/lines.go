package extractor

import (
	"bufio"
	"bytes"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/tidwall/gjson"
)

const (
	lineBufInitial = 64 * 1024
	lineBufMax     = 32 * 1024 * 1024
	// fallbackLines 标题回退最多读取的行数 / Lines read past the header while looking for a title
	fallbackLines = 20
	// minTitleRunes 候选标题须超过的字符数 / Candidate title text must be longer than this
	minTitleRunes = 5
)

// lineReader yields JSON lines, skipping blank ones.
type lineReader struct {
	sc *bufio.Scanner
}

func newLineReader(r io.Reader) *lineReader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, lineBufInitial), lineBufMax)
	return &lineReader{sc: sc}
}

// next returns the next non-blank line parsed with gjson. ok is false at EOF or
// when a line exceeds the buffer. valid is false for lines that are not JSON.
func (lr *lineReader) next() (res gjson.Result, valid, ok bool) {
	for lr.sc.Scan() {
		line := lr.sc.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		if !gjson.ValidBytes(line) {
			return gjson.Result{}, false, true
		}
		return gjson.ParseBytes(line), true, true
	}
	return gjson.Result{}, false, false
}

func (lr *lineReader) err() error {
	return lr.sc.Err()
}

// substantial reports whether text is long enough to serve as a fallback title.
func substantial(text string) bool {
	return utf8.RuneCountInString(strings.TrimSpace(text)) > minTitleRunes
}

// stringField returns r as a string only when it is a JSON string.
func stringField(r gjson.Result) string {
	if r.Type != gjson.String {
		return ""
	}
	return r.String()
}
