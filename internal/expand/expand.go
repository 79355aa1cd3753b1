package expand

import (
	"regexp"
	"sort"
)

// placeholder 匹配任意 {{ name }} 占位符，允许花括号内两侧空白
var placeholder = regexp.MustCompile(`\{\{[ \t]*[a-zA-Z0-9_]+[ \t]*\}\}`)

// maxPasses 限制替换轮数，防止变量值中再次出现自身占位符导致死循环
const maxPasses = 16

// Options 变量替换选项
type Options struct {
	// KeepUnknown 为 true 时保留未知占位符，默认删除
	KeepUnknown bool
}

// Expand 使用默认选项替换模板中的变量
func Expand(template string, vars map[string]string) string {
	return ExpandWith(template, vars, Options{})
}

// ExpandWith 替换模板中所有已知变量，直到不再发生替换；
// 之后根据选项删除或保留剩余的未知占位符
func ExpandWith(template string, vars map[string]string, opts Options) string {
	if !placeholder.MatchString(template) {
		return template
	}

	names := make([]string, 0, len(vars))
	for name := range vars {
		names = append(names, name)
	}
	sort.Strings(names)

	patterns := make([]*regexp.Regexp, len(names))
	for i, name := range names {
		patterns[i] = regexp.MustCompile(`\{\{[ \t]*` + regexp.QuoteMeta(name) + `[ \t]*\}\}`)
	}

	result := template
	for pass := 0; pass < maxPasses; pass++ {
		before := result
		for i, name := range names {
			result = patterns[i].ReplaceAllLiteralString(result, vars[name])
		}
		if result == before {
			break
		}
	}

	if !opts.KeepUnknown {
		result = placeholder.ReplaceAllLiteralString(result, "")
	}
	return result
}
