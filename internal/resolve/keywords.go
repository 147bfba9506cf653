package resolve

import (
	"strings"
	"unicode"
)

// Keyword sets. ASCII keywords match at the start of a word, so "send"
// hits "sendButton" and "chat-send" but "mic" does not hit "dynamic".
// CJK keywords match anywhere.
var (
	inputKeywords = []string{
		"ask", "message", "chat", "prompt", "question", "reply",
		"问", "输入", "消息", "聊天", "提问",
	}
	inputNegative = []string{
		"search", "filter", "find", "query",
		"搜索", "查找", "筛选",
	}
	submitKeywords = []string{
		"send", "submit",
		"发送", "提交", "送信",
	}
	submitNegative = []string{
		"refresh", "regenerate", "retry", "skill", "agent", "plugin",
		"mic", "voice", "dictat", "speech", "record", "attach", "upload",
		"stop", "setting", "model", "share", "copy",
		"刷新", "重新生成", "技能", "智能体", "插件", "语音", "麦克风",
		"上传", "附件", "停止", "设置", "分享", "复制",
	}
	iconKeywords = []string{
		"send", "arrow", "submit", "paper-plane", "plane", "发送",
	}
	newChatKeywords = []string{
		"new chat", "new conversation", "newchat", "newconversation",
		"start new", "create conversation", "create new chat",
		"新对话", "新建对话", "新会话", "开启新对话", "新聊天", "新建会话",
	}
	newChatNegative = []string{
		"delete", "remove", "rename", "share", "删除", "重命名", "分享",
	}
)

// matchAny returns the first keyword found in s, or "".
func matchAny(s string, keywords []string) string {
	if s == "" {
		return ""
	}
	words := splitWords(s)
	lower := strings.ToLower(s)
	for _, kw := range keywords {
		if isASCII(kw) {
			if wordPrefix(words, kw) {
				return kw
			}
			continue
		}
		if strings.Contains(lower, kw) {
			return kw
		}
	}
	return ""
}

// splitWords lower-cases s and breaks it at non-letters and camelCase
// humps, returning a space-joined string with a leading space.
func splitWords(s string) string {
	var sb strings.Builder
	sb.WriteByte(' ')
	var prev rune
	for _, r := range s {
		switch {
		case unicode.IsUpper(r) && unicode.IsLower(prev):
			sb.WriteByte(' ')
			sb.WriteRune(unicode.ToLower(r))
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			sb.WriteRune(unicode.ToLower(r))
		default:
			sb.WriteByte(' ')
		}
		prev = r
	}
	return sb.String()
}

// wordPrefix reports whether kw starts a word in words. Multi-word
// keywords are matched across single spaces.
func wordPrefix(words, kw string) bool {
	return strings.Contains(words, " "+kw)
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return false
		}
	}
	return true
}

// normalizeNewChat folds separators so "new-chat", "new_chat" and
// "NewChat" all read as "new chat" or "newchat".
func normalizeNewChat(s string) string {
	return strings.Join(strings.Fields(splitWords(s)), " ")
}
