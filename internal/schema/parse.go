// Package schema 将通用键值树（YAML 或持久化 JSON）严格校验为不可变的工具配置
package schema

import (
	"fmt"

	"piper/internal/rules"
	"piper/pkg/model"

	"gopkg.in/yaml.v3"
)

// Parse 解析 YAML 文档，失败时不返回任何部分结果
func Parse(src []byte) (*model.Config, error) {
	var tree any
	if err := yaml.Unmarshal(src, &tree); err != nil {
		return nil, &ParseError{Kind: ErrMalformedShape, Msg: err.Error()}
	}
	return ParseTree(tree)
}

// ParseTree 校验通用树并构建配置
func ParseTree(tree any) (*model.Config, error) {
	if tree == nil {
		return model.DefaultConfig(), nil
	}
	m, ok := asMap(tree)
	if !ok {
		return nil, malformed("", "document root must be a map, got %T", tree)
	}
	root := node{m: m}
	cfg := model.DefaultConfig()
	var err error

	if cfg.MessageViewers, err = parseAll(root, model.KindMessageViewer, parseMessageViewer); err != nil {
		return nil, err
	}
	if cfg.Macros, err = parseAll(root, model.KindMacro, parseMacro); err != nil {
		return nil, err
	}
	if cfg.HTTPListeners, err = parseAll(root, model.KindHTTPListener, parseHTTPListener); err != nil {
		return nil, err
	}
	if cfg.Highlighters, err = parseAll(root, model.KindHighlighter, parseHighlighter); err != nil {
		return nil, err
	}
	if cfg.Commentators, err = parseAll(root, model.KindCommentator, parseCommentator); err != nil {
		return nil, err
	}
	if cfg.MenuItems, err = parseAll(root, model.KindUserAction, parseUserAction); err != nil {
		return nil, err
	}
	if cfg.PayloadProcessors, err = parseAll(root, model.KindPayloadProcessor, parsePayloadProcessor); err != nil {
		return nil, err
	}
	if cfg.PayloadGenerators, err = parseAll(root, model.KindPayloadGenerator, parsePayloadGenerator); err != nil {
		return nil, err
	}
	return cfg, nil
}

func parseAll[T any](root node, kind model.Kind, fn func(node) (T, error)) ([]T, error) {
	entries, err := root.children(string(kind))
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(entries))
	for _, e := range entries {
		v, err := fn(e)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func parseMinimal(n node) (model.MinimalTool, error) {
	var t model.MinimalTool
	var err error
	if t.Name, err = n.requiredString("name"); err != nil {
		return t, err
	}
	if t.Enabled, err = n.optionalBool("enabled", true); err != nil {
		return t, err
	}
	raw, err := n.optionalString("scope", string(model.ScopeRequestResponse))
	if err != nil {
		return t, err
	}
	if t.Scope, err = ParseScope(raw); err != nil {
		return t, withPath(err, n.key("scope"))
	}
	if t.Cmd, err = parseCommand(n); err != nil {
		return t, err
	}
	if f, ok, err := n.child("filter"); err != nil {
		return t, err
	} else if ok {
		if t.Filter, err = parseMatch(f); err != nil {
			return t, err
		}
	}
	return t, nil
}

// parseCommand 命令字段与工具字段位于同一层级
func parseCommand(n node) (model.CommandInvocation, error) {
	var c model.CommandInvocation
	var err error
	if c.Prefix, err = n.stringSeq("prefix", true); err != nil {
		return c, err
	}
	if len(c.Prefix) == 0 || c.Prefix[0] == "" {
		return c, malformed(n.key("prefix"), "must not be empty")
	}
	if c.Postfix, err = n.stringSeq("postfix", false); err != nil {
		return c, err
	}
	raw, err := n.requiredString("inputMethod")
	if err != nil {
		return c, err
	}
	if c.InputMethod, err = ParseInputMethod(raw); err != nil {
		return c, withPath(err, n.key("inputMethod"))
	}
	if c.PassHeaders, err = n.optionalBool("passHeaders", false); err != nil {
		return c, err
	}
	if c.RequiredInPath, err = n.stringSeq("requiredInPath", false); err != nil {
		return c, err
	}
	if c.ExitCodes, err = n.intSeq("exitCode"); err != nil {
		return c, err
	}
	if c.Stdout, err = optionalMatch(n, "stdout"); err != nil {
		return c, err
	}
	if c.Stderr, err = optionalMatch(n, "stderr"); err != nil {
		return c, err
	}
	return c, nil
}

func optionalMatch(n node, k string) (*model.MessageMatch, error) {
	c, ok, err := n.child(k)
	if err != nil || !ok {
		return nil, err
	}
	return parseMatch(c)
}

func parseRegex(n node) (model.RegexMatch, error) {
	var r model.RegexMatch
	var err error
	if r.Pattern, err = n.requiredString("pattern"); err != nil {
		return r, err
	}
	flags, err := n.stringSeq("flags", false)
	if err != nil {
		return r, err
	}
	for i, f := range flags {
		v, err := ParseEnum(f, RegexFlags)
		if err != nil {
			return r, withPath(err, fmt.Sprintf("%s[%d]", n.key("flags"), i))
		}
		r.Flags = append(r.Flags, v)
	}
	if _, err := rules.Compile(r); err != nil {
		return r, &ParseError{Kind: ErrMalformedShape, Path: n.key("pattern"), Value: r.Pattern, Msg: err.Error()}
	}
	return r, nil
}

func parseMatch(n node) (*model.MessageMatch, error) {
	m := &model.MessageMatch{}
	var err error
	if m.Prefix, err = n.optionalString("prefix", ""); err != nil {
		return nil, err
	}
	if m.Postfix, err = n.optionalString("postfix", ""); err != nil {
		return nil, err
	}
	if rn, ok, err := n.child("regex"); err != nil {
		return nil, err
	} else if ok {
		r, err := parseRegex(rn)
		if err != nil {
			return nil, err
		}
		m.Regex = &r
	}
	if hn, ok, err := n.child("header"); err != nil {
		return nil, err
	} else if ok {
		h := &model.HeaderMatch{}
		if h.Header, err = hn.requiredString("header"); err != nil {
			return nil, err
		}
		rn, ok, err := hn.child("regex")
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, missing(hn.key("regex"))
		}
		if h.Regex, err = parseRegex(rn); err != nil {
			return nil, err
		}
		m.Header = h
	}
	if cn, ok, err := n.child("cmd"); err != nil {
		return nil, err
	} else if ok {
		c, err := parseCommand(cn)
		if err != nil {
			return nil, err
		}
		m.Cmd = &c
	}
	if jn, ok, err := n.child("jsonPath"); err != nil {
		return nil, err
	} else if ok {
		j := &model.JSONPathMatch{}
		if j.Path, err = jn.requiredString("path"); err != nil {
			return nil, err
		}
		if rn, ok, err := jn.child("regex"); err != nil {
			return nil, err
		} else if ok {
			r, err := parseRegex(rn)
			if err != nil {
				return nil, err
			}
			j.Regex = &r
		}
		m.JSONPath = j
	}
	if m.InScope, err = n.optionalBool("inScope", false); err != nil {
		return nil, err
	}
	if m.Negation, err = n.optionalBool("negation", false); err != nil {
		return nil, err
	}
	if m.AndAlso, err = parseMatchList(n, "andAlso"); err != nil {
		return nil, err
	}
	if m.OrElse, err = parseMatchList(n, "orElse"); err != nil {
		return nil, err
	}
	return m, nil
}

func parseMatchList(n node, k string) ([]model.MessageMatch, error) {
	items, err := n.children(k)
	if err != nil {
		return nil, err
	}
	var out []model.MessageMatch
	for _, it := range items {
		m, err := parseMatch(it)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, nil
}

func parseMessageViewer(n node) (model.MessageViewer, error) {
	var t model.MessageViewer
	var err error
	if t.Common, err = parseMinimal(n); err != nil {
		return t, err
	}
	t.UsesColors, err = n.optionalBool("usesColors", false)
	return t, err
}

func parseMacro(n node) (model.Macro, error) {
	c, err := parseMinimal(n)
	return model.Macro{Common: c}, err
}

func parseHTTPListener(n node) (model.HTTPListener, error) {
	var t model.HTTPListener
	var err error
	if t.Common, err = parseMinimal(n); err != nil {
		return t, err
	}
	sources, err := n.stringSeq("tool", false)
	if err != nil {
		return t, err
	}
	for i, s := range sources {
		src, err := ParseToolSource(s)
		if err != nil {
			return t, withPath(err, fmt.Sprintf("%s[%d]", n.key("tool"), i))
		}
		t.Tools = append(t.Tools, src)
	}
	t.IgnoreOutput, err = n.optionalBool("ignoreOutput", false)
	return t, err
}

func parseHighlighter(n node) (model.Highlighter, error) {
	var t model.Highlighter
	var err error
	if t.Common, err = parseMinimal(n); err != nil {
		return t, err
	}
	raw, err := n.optionalString("color", string(model.ColorRed))
	if err != nil {
		return t, err
	}
	if t.Color, err = ParseColor(raw); err != nil {
		return t, withPath(err, n.key("color"))
	}
	if t.Overwrite, err = n.optionalBool("overwrite", false); err != nil {
		return t, err
	}
	t.ApplyWithListener, err = n.optionalBool("applyWithListener", false)
	return t, err
}

func parseCommentator(n node) (model.Commentator, error) {
	var t model.Commentator
	var err error
	if t.Common, err = parseMinimal(n); err != nil {
		return t, err
	}
	if t.Overwrite, err = n.optionalBool("overwrite", false); err != nil {
		return t, err
	}
	t.ApplyWithListener, err = n.optionalBool("applyWithListener", false)
	return t, err
}

func parseUserAction(n node) (model.UserActionTool, error) {
	var t model.UserActionTool
	var err error
	if t.Common, err = parseMinimal(n); err != nil {
		return t, err
	}
	if t.HasGUI, err = n.optionalBool("hasGUI", false); err != nil {
		return t, err
	}
	if t.MinInputs, err = n.optionalInt("minInputs", 1); err != nil {
		return t, err
	}
	if t.MaxInputs, err = n.optionalInt("maxInputs", 0); err != nil {
		return t, err
	}
	if t.MinInputs < 0 || (t.MaxInputs > 0 && t.MaxInputs < t.MinInputs) {
		return t, malformed(n.key("maxInputs"), "invalid input bounds %d..%d", t.MinInputs, t.MaxInputs)
	}
	return t, nil
}

func parsePayloadProcessor(n node) (model.PayloadProcessor, error) {
	c, err := parseMinimal(n)
	return model.PayloadProcessor{Common: c}, err
}

func parsePayloadGenerator(n node) (model.PayloadGenerator, error) {
	c, err := parseMinimal(n)
	return model.PayloadGenerator{Common: c}, err
}
