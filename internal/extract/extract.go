// Package extract はプラットフォームのHTML断片からテキストを取り出す純粋関数群を提供する。
//
// 取得対象のマークアップは上流の構造変更に対して脆弱なため、パターン照合は
// すべてこのパッケージに隔離する。全関数は不正・欠損した入力に対しても
// エラーを発生させず、空文字列またはfalseを返す全域関数である。
package extract

import (
	"fmt"
	stdhtml "html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
)

const (
	// titleTrailingArtifact はストリームのタイトルマークアップが投稿日時バッジの
	// 手前に残す2文字の区切り。バッジ除去後にこれだけが残るため切り落とす。
	titleTrailingArtifact = " -"

	// resubmitMarker は提出ページのタイトル先頭がこの文字で始まる場合に
	// 「再提出」画面、すなわち提出済みであることを示す。
	// プラットフォーム固有の言語に依存した規約であり、一般化してはならない。
	resubmitMarker = '复'

	// instructionBlockID は課題説明ブロックの要素ID。
	instructionBlockID = "instructions"
	// submissionListID は提出要領リスト（要求・許可される添付のリンク）の要素ID。
	submissionListID = "submissionList"
	// attemptFilesID は提出済み添付リンクを含む要素のID。
	attemptFilesID = "attemptFiles"
)

// decorativeClasses はタイトル断片から除去する装飾領域のclass名。
// コンテキストメニュー操作、種別バッジ、投稿日時バッジが該当する。
var decorativeClasses = []string{
	"context-menu",
	"badge-type",
	"badge-date",
}

// strictPolicy は全タグを除去するbluemondayポリシー。パッケージ初期化時に1回構築する。
var strictPolicy = bluemonday.StrictPolicy()

// stripTags はHTML断片から全タグを除去し、テキストのみを返す。
func stripTags(fragment string) string {
	stripped := strictPolicy.Sanitize(fragment)
	return strings.TrimSpace(stdhtml.UnescapeString(stripped))
}

// ExtractTitle は通知エントリのタイトル断片を平文タイトルへ変換する。
// 装飾領域（コンテキストメニュー・種別バッジ・投稿日時バッジ）を除去した後に
// 残りの全タグを落とし、末尾に残る固定2文字の区切りを取り除く。
func ExtractTitle(fragment string) string {
	root, err := html.Parse(strings.NewReader(fragment))
	if err != nil {
		// パース不能な断片はタグ除去のみで処理する
		return strings.TrimSuffix(stripTags(fragment), titleTrailingArtifact)
	}

	var sb strings.Builder
	collectText(root, &sb, isDecorative)

	title := strings.TrimSpace(sb.String())
	return strings.TrimSuffix(title, titleTrailingArtifact)
}

// ExtractBody は本文断片の全タグを除去し、テキストのみを返す。
func ExtractBody(fragment string) string {
	return stripTags(fragment)
}

// HasBeenAttempted は詳細ページが「再提出」画面かどうかを報告する。
// title要素のテキストが再提出マーカー文字で始まる場合に提出済みとみなす。
// title要素が存在しないページは未提出として扱う。
func HasBeenAttempted(page string) bool {
	root, err := html.Parse(strings.NewReader(page))
	if err != nil {
		return false
	}

	titleNode := findElement(root, "title")
	if titleNode == nil {
		return false
	}

	var sb strings.Builder
	collectText(titleNode, &sb, nil)
	title := strings.TrimSpace(sb.String())
	if title == "" {
		return false
	}

	return []rune(title)[0] == resubmitMarker
}

// ExtractInstruction は詳細ページから課題説明テキストを取り出し、
// 添付リンクの一覧を番号付きで連結して返す。
// 提出済みページでは提出済み添付のリンクを、未提出ページでは提出要領リスト内の
// 添付リンクを対象とする。説明ブロックがない場合は添付一覧のみ（それもなければ空文字列）を返す。
func ExtractInstruction(page string) string {
	root, err := html.Parse(strings.NewReader(page))
	if err != nil {
		return ""
	}

	var parts []string

	if block := findByID(root, instructionBlockID); block != nil {
		var sb strings.Builder
		collectText(block, &sb, nil)
		if text := strings.TrimSpace(sb.String()); text != "" {
			parts = append(parts, text)
		}
	}

	listID := submissionListID
	if HasBeenAttempted(page) {
		listID = attemptFilesID
	}

	if list := findByID(root, listID); list != nil {
		n := 0
		for _, a := range anchorsUnder(list) {
			var sb strings.Builder
			collectText(a, &sb, nil)
			label := strings.TrimSpace(sb.String())
			if label == "" {
				continue
			}
			n++
			parts = append(parts, fmt.Sprintf("添付%d: %s", n, label))
		}
	}

	return strings.Join(parts, "\n")
}

// collectText はノード配下のテキストを収集する。
// skipが非nilの場合、skipがtrueを返す要素の部分木は丸ごと読み飛ばす。
func collectText(n *html.Node, sb *strings.Builder, skip func(*html.Node) bool) {
	if n.Type == html.ElementNode && skip != nil && skip(n) {
		return
	}
	if n.Type == html.TextNode {
		sb.WriteString(n.Data)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, sb, skip)
	}
}

// isDecorative は要素が装飾領域（除去対象）かどうかを報告する。
func isDecorative(n *html.Node) bool {
	class := attrValue(n, "class")
	if class == "" {
		return false
	}
	for _, dc := range decorativeClasses {
		if strings.Contains(class, dc) {
			return true
		}
	}
	return false
}

// findElement は指定タグ名の最初の要素を深さ優先で探す。
func findElement(n *html.Node, tag string) *html.Node {
	if n.Type == html.ElementNode && n.Data == tag {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, tag); found != nil {
			return found
		}
	}
	return nil
}

// findByID は指定id属性を持つ最初の要素を深さ優先で探す。
func findByID(n *html.Node, id string) *html.Node {
	if n.Type == html.ElementNode && attrValue(n, "id") == id {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findByID(c, id); found != nil {
			return found
		}
	}
	return nil
}

// anchorsUnder はノード配下の全a要素を文書順で返す。
func anchorsUnder(n *html.Node) []*html.Node {
	var anchors []*html.Node
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if node.Type == html.ElementNode && node.Data == "a" {
			anchors = append(anchors, node)
			return
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return anchors
}

// attrValue は要素の属性値を返す。属性がない場合は空文字列を返す。
func attrValue(n *html.Node, key string) string {
	for _, attr := range n.Attr {
		if attr.Key == key {
			return attr.Val
		}
	}
	return ""
}
