package provider

import "strings"

// maxThesisLen 论据文本上限，超长截断
const maxThesisLen = 600

// SanitizeThesis 清理模型输出：剥掉 markdown 代码围栏与首尾引号，
// 压缩为单段文本并限制长度。
func SanitizeThesis(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		if i := strings.Index(s, "\n"); i >= 0 {
			// 丢掉围栏后的语言标记行
			s = s[i+1:]
		}
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
		s = strings.TrimSpace(s)
	}
	s = strings.Trim(s, `"'`)
	s = strings.Join(strings.Fields(s), " ")
	return TrimTo(s, maxThesisLen)
}

// TrimTo 限制字符串长度，超长则追加省略号
func TrimTo(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
