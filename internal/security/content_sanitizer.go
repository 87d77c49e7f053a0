package security

import (
	"errors"
	"fmt"
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// maxProfileFieldLength はプロフィールフィールドの最大文字数。
// usersテーブルのvarchar(255)に合わせる。
const maxProfileFieldLength = 255

// maxSanitizePasses はエンティティで隠されたタグを再除去する回数の上限。
const maxSanitizePasses = 4

// ErrProfileFieldTooLong は切り詰めると別の値になってしまうフィールドが長すぎることを示す。
var ErrProfileFieldTooLong = errors.New("profile field too long")

// ProfileSanitizer はIdPから受け取ったプロフィールの文字列フィールドを無害化する。
// IdPの値は信頼できない入力として扱い、保存前にすべてのHTMLタグを除去する。
// 出力はHTMLエスケープしないプレーンテキストで、エスケープは表示側の責務とする。
type ProfileSanitizer interface {
	// SanitizeText はHTMLタグを除去し、前後の空白を取り除き、最大長に切り詰める。
	SanitizeText(raw string) string
	// SanitizeEmail はSanitizeTextと同様に無害化するが、最大長を超える場合は切り詰めずにエラーを返す。
	SanitizeEmail(raw string) (string, error)
}

// profileSanitizer はProfileSanitizerの実装。
// bluemondayのポリシーはスレッドセーフに使用できる。
type profileSanitizer struct {
	policy *bluemonday.Policy
}

// NewProfileSanitizer はタグを一切許可しないStrictPolicyでProfileSanitizerを生成する。
func NewProfileSanitizer() *profileSanitizer {
	return &profileSanitizer{policy: bluemonday.StrictPolicy()}
}

// SanitizeText はプロフィールの文字列フィールドを無害化する。
func (s *profileSanitizer) SanitizeText(raw string) string {
	return truncateRunes(s.stripMarkup(raw), maxProfileFieldLength)
}

// SanitizeEmail はメールアドレスを無害化する。
func (s *profileSanitizer) SanitizeEmail(raw string) (string, error) {
	cleaned := s.stripMarkup(raw)
	if n := utf8.RuneCountInString(cleaned); n > maxProfileFieldLength {
		return "", fmt.Errorf("%w: email has %d characters, limit %d", ErrProfileFieldTooLong, n, maxProfileFieldLength)
	}
	return cleaned, nil
}

// stripMarkup はタグを除去し、bluemondayが付けたエスケープを戻す。
// `&lt;b&gt;`のように戻した結果がタグになる入力は、変化がなくなるまで繰り返す。
func (s *profileSanitizer) stripMarkup(raw string) string {
	out := raw
	for range maxSanitizePasses {
		next := html.UnescapeString(s.policy.Sanitize(out))
		if next == out {
			break
		}
		out = next
	}
	if out != html.UnescapeString(s.policy.Sanitize(out)) {
		out = strings.NewReplacer("<", "", ">", "").Replace(out)
	}
	return strings.TrimSpace(out)
}

// truncateRunes は文字列をmax文字（rune単位）に切り詰める。
func truncateRunes(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max])
}
