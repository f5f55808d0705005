package schema

import (
	"piper/pkg/model"
)

// Encode 将配置还原为与解析同构的通用树
func Encode(cfg *model.Config) map[string]any {
	if cfg == nil {
		cfg = model.DefaultConfig()
	}
	out := make(map[string]any, len(model.Kinds))
	out[string(model.KindMessageViewer)] = encodeAll(cfg.MessageViewers, func(t model.MessageViewer) map[string]any {
		m := encodeMinimal(t.Common)
		m["usesColors"] = t.UsesColors
		return m
	})
	out[string(model.KindMacro)] = encodeAll(cfg.Macros, func(t model.Macro) map[string]any {
		return encodeMinimal(t.Common)
	})
	out[string(model.KindHTTPListener)] = encodeAll(cfg.HTTPListeners, func(t model.HTTPListener) map[string]any {
		m := encodeMinimal(t.Common)
		if len(t.Tools) > 0 {
			tools := make([]any, len(t.Tools))
			for i, s := range t.Tools {
				tools[i] = string(s)
			}
			m["tool"] = tools
		}
		m["ignoreOutput"] = t.IgnoreOutput
		return m
	})
	out[string(model.KindHighlighter)] = encodeAll(cfg.Highlighters, func(t model.Highlighter) map[string]any {
		m := encodeMinimal(t.Common)
		m["color"] = string(t.Color)
		m["overwrite"] = t.Overwrite
		m["applyWithListener"] = t.ApplyWithListener
		return m
	})
	out[string(model.KindCommentator)] = encodeAll(cfg.Commentators, func(t model.Commentator) map[string]any {
		m := encodeMinimal(t.Common)
		m["overwrite"] = t.Overwrite
		m["applyWithListener"] = t.ApplyWithListener
		return m
	})
	out[string(model.KindUserAction)] = encodeAll(cfg.MenuItems, func(t model.UserActionTool) map[string]any {
		m := encodeMinimal(t.Common)
		m["hasGUI"] = t.HasGUI
		m["minInputs"] = t.MinInputs
		m["maxInputs"] = t.MaxInputs
		return m
	})
	out[string(model.KindPayloadProcessor)] = encodeAll(cfg.PayloadProcessors, func(t model.PayloadProcessor) map[string]any {
		return encodeMinimal(t.Common)
	})
	out[string(model.KindPayloadGenerator)] = encodeAll(cfg.PayloadGenerators, func(t model.PayloadGenerator) map[string]any {
		return encodeMinimal(t.Common)
	})
	return out
}

func encodeAll[T any](items []T, fn func(T) map[string]any) []any {
	out := make([]any, len(items))
	for i, it := range items {
		out[i] = fn(it)
	}
	return out
}

func encodeMinimal(t model.MinimalTool) map[string]any {
	m := map[string]any{
		"name":    t.Name,
		"enabled": t.Enabled,
	}
	if t.Scope != "" {
		m["scope"] = string(t.Scope)
	}
	encodeCommand(m, t.Cmd)
	if t.Filter != nil {
		m["filter"] = encodeMatch(*t.Filter)
	}
	return m
}

func encodeCommand(m map[string]any, c model.CommandInvocation) {
	m["prefix"] = stringsToAny(c.Prefix)
	if len(c.Postfix) > 0 {
		m["postfix"] = stringsToAny(c.Postfix)
	}
	m["inputMethod"] = string(c.InputMethod)
	m["passHeaders"] = c.PassHeaders
	if len(c.RequiredInPath) > 0 {
		m["requiredInPath"] = stringsToAny(c.RequiredInPath)
	}
	if len(c.ExitCodes) > 0 {
		codes := make([]any, len(c.ExitCodes))
		for i, v := range c.ExitCodes {
			codes[i] = v
		}
		m["exitCode"] = codes
	}
	if c.Stdout != nil {
		m["stdout"] = encodeMatch(*c.Stdout)
	}
	if c.Stderr != nil {
		m["stderr"] = encodeMatch(*c.Stderr)
	}
}

func encodeRegex(r model.RegexMatch) map[string]any {
	m := map[string]any{"pattern": r.Pattern}
	if len(r.Flags) > 0 {
		m["flags"] = stringsToAny(r.Flags)
	}
	return m
}

func encodeMatch(mm model.MessageMatch) map[string]any {
	m := map[string]any{}
	if mm.Prefix != "" {
		m["prefix"] = mm.Prefix
	}
	if mm.Postfix != "" {
		m["postfix"] = mm.Postfix
	}
	if mm.Regex != nil {
		m["regex"] = encodeRegex(*mm.Regex)
	}
	if mm.Header != nil {
		m["header"] = map[string]any{"header": mm.Header.Header, "regex": encodeRegex(mm.Header.Regex)}
	}
	if mm.Cmd != nil {
		c := map[string]any{}
		encodeCommand(c, *mm.Cmd)
		m["cmd"] = c
	}
	if mm.JSONPath != nil {
		j := map[string]any{"path": mm.JSONPath.Path}
		if mm.JSONPath.Regex != nil {
			j["regex"] = encodeRegex(*mm.JSONPath.Regex)
		}
		m["jsonPath"] = j
	}
	if mm.InScope {
		m["inScope"] = true
	}
	if mm.Negation {
		m["negation"] = true
	}
	if len(mm.AndAlso) > 0 {
		m["andAlso"] = encodeAll(mm.AndAlso, encodeMatch)
	}
	if len(mm.OrElse) > 0 {
		m["orElse"] = encodeAll(mm.OrElse, encodeMatch)
	}
	return m
}

func stringsToAny(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}
