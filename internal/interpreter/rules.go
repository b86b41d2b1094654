package interpreter

import (
	"regexp"
	"strings"
)

var attackRe = regexp.MustCompile(`(?is)attack (.*)`)

// Intent 操作员发言解析出的集群指令
type Intent int

const (
	IntentNone Intent = iota
	IntentAttack
	IntentFollow
	IntentStop
	IntentTeleport
)

func (i Intent) String() string {
	switch i {
	case IntentAttack:
		return "attack"
	case IntentFollow:
		return "follow"
	case IntentStop:
		return "stop"
	case IntentTeleport:
		return "teleport"
	default:
		return "none"
	}
}

// Parse 关键字规则，按 attack > follow > stop > teleport 的顺序匹配（大小写不敏感）。
// attack 的目标取 "attack " 之后的文本并保留原大小写。
func Parse(message, operator string) (Intent, string) {
	lower := strings.ToLower(message)

	// 目标直接从原文截取，ToLower 可能改变字节长度
	if m := attackRe.FindStringSubmatch(message); m != nil {
		if target := strings.TrimSpace(m[1]); target != "" {
			return IntentAttack, target
		}
	}

	if strings.Contains(lower, "follow me") || strings.Contains(lower, "follow rabbit") ||
		(operator != "" && strings.Contains(lower, "follow "+strings.ToLower(operator))) {
		return IntentFollow, operator
	}

	if strings.Contains(lower, "stop") {
		return IntentStop, ""
	}

	if strings.Contains(lower, "teleport") || hasWord(lower, "tp") {
		return IntentTeleport, ""
	}
	return IntentNone, ""
}

// hasWord "tp" 只按独立单词匹配，避免 "http"、"output" 之类误触发
func hasWord(s, word string) bool {
	for _, f := range strings.FieldsFunc(s, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	}) {
		if f == word {
			return true
		}
	}
	return false
}
