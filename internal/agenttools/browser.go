package agenttools

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/chromedp"

	"github.com/tarsline/agentrt/internal/toolregistry"
	"github.com/tarsline/agentrt/pkg/models"
)

const inspectPageJS = `(function() {
  function isVis(el) {
    if (!el) return false;
    var s = window.getComputedStyle(el);
    if (s.display === 'none' || s.visibility === 'hidden' || s.opacity === '0') return false;
    var r = el.getBoundingClientRect();
    return r.width > 0 && r.height > 0;
  }
  var out = [];
  var h = document.querySelector('h1,h2');
  out.push('PAGE: ' + ((h && isVis(h)) ? h.innerText.trim().substring(0,80) : document.title));
  out.push('URL: ' + location.href);
  out.push('');
  var fields = [];
  document.querySelectorAll('input:not([type=hidden]), textarea').forEach(function(el){ if (isVis(el)) fields.push(el); });
  if (fields.length) {
    out.push('FIELDS:');
    fields.forEach(function(el) {
      var label = el.getAttribute('aria-label') || el.placeholder || el.name || el.id || '';
      var sel = el.id ? '#'+el.id : (el.name ? '[name='+el.name+']' : '');
      out.push('  ['+(el.type||'text')+'] '+label+' -> '+sel);
    });
    out.push('');
  }
  var selects = [];
  document.querySelectorAll('select').forEach(function(el){ if (isVis(el)) selects.push(el); });
  if (selects.length) {
    out.push('DROPDOWNS:');
    selects.forEach(function(el) {
      var label = el.name || el.id || '?';
      var cur = el.options[el.selectedIndex] ? el.options[el.selectedIndex].text : '';
      out.push('  '+label+' (current: '+cur+')');
    });
    out.push('');
  }
  var btns = [];
  document.querySelectorAll('button, input[type=submit], [role=button]').forEach(function(el) {
    if (isVis(el) && (el.innerText||el.value||'').trim()) btns.push(el);
  });
  if (btns.length) {
    out.push('BUTTONS:');
    btns.forEach(function(el){ out.push('  ['+((el.innerText||el.value||'').trim().substring(0,50))+']'); });
    out.push('');
  }
  return out.join('\n');
})()`

// RegisterBrowserTools adds goto/click/look/select, a chromedp-driven
// read-mostly interaction set. Grounded on
// original_source/hands/browser.py's act_goto/act_click/act_inspect_page/
// act_select_option, ported from its AppleScript-driven physical
// automation to chromedp's CDP-native navigation/click/evaluate, since a
// server process has no desktop session to drive cliclick/System Events
// against. allocatorCtx is a long-lived chromedp allocator context; each
// call runs its own tab off of it, torn down after use.
func RegisterBrowserTools(reg *toolregistry.Registry, allocatorCtx context.Context) {
	reg.Register(models.ToolSpec{
		Name:        "goto",
		Description: "Navigate the browser to a URL.",
		InputSchema: mustSchema(map[string]any{
			"type":       "object",
			"properties": map[string]any{"url": map[string]any{"type": "string"}},
			"required":   []string{"url"},
		}),
	}, func(ctx context.Context, input map[string]any) string {
		url, _ := input["url"].(string)
		if url == "" {
			return toolregistry.ErrorPrefix + " url is required"
		}
		tabCtx, cancel := chromedp.NewContext(allocatorCtx)
		defer cancel()
		runCtx, timeoutCancel := context.WithTimeout(tabCtx, 20*time.Second)
		defer timeoutCancel()
		if err := chromedp.Run(runCtx, chromedp.Navigate(url)); err != nil {
			return fmt.Sprintf("%s navigate: %v", toolregistry.ErrorPrefix, err)
		}
		return "navigated to " + url
	})

	reg.Register(models.ToolSpec{
		Name:        "look",
		Description: "Inspect the current page's visible interactive elements (fields, dropdowns, buttons).",
		InputSchema: mustSchema(map[string]any{"type": "object", "properties": map[string]any{}}),
	}, func(ctx context.Context, input map[string]any) string {
		tabCtx, cancel := chromedp.NewContext(allocatorCtx)
		defer cancel()
		runCtx, timeoutCancel := context.WithTimeout(tabCtx, 15*time.Second)
		defer timeoutCancel()
		var result string
		if err := chromedp.Run(runCtx, chromedp.Evaluate(inspectPageJS, &result)); err != nil {
			return fmt.Sprintf("%s inspect page: %v", toolregistry.ErrorPrefix, err)
		}
		return result
	})

	reg.Register(models.ToolSpec{
		Name:        "click",
		Description: "Click an element by CSS selector, as surfaced by look.",
		InputSchema: mustSchema(map[string]any{
			"type":       "object",
			"properties": map[string]any{"selector": map[string]any{"type": "string"}},
			"required":   []string{"selector"},
		}),
	}, func(ctx context.Context, input map[string]any) string {
		selector, _ := input["selector"].(string)
		if selector == "" {
			return toolregistry.ErrorPrefix + " selector is required"
		}
		tabCtx, cancel := chromedp.NewContext(allocatorCtx)
		defer cancel()
		runCtx, timeoutCancel := context.WithTimeout(tabCtx, 15*time.Second)
		defer timeoutCancel()
		if err := chromedp.Run(runCtx, chromedp.Click(selector, chromedp.NodeVisible)); err != nil {
			return fmt.Sprintf("%s click: %v", toolregistry.ErrorPrefix, err)
		}
		return "clicked " + selector
	})

	reg.Register(models.ToolSpec{
		Name:        "select",
		Description: "Choose an option in a <select> dropdown by its selector and visible option text.",
		InputSchema: mustSchema(map[string]any{
			"type": "object",
			"properties": map[string]any{
				"selector": map[string]any{"type": "string"},
				"option":   map[string]any{"type": "string"},
			},
			"required": []string{"selector", "option"},
		}),
	}, func(ctx context.Context, input map[string]any) string {
		selector, _ := input["selector"].(string)
		option, _ := input["option"].(string)
		if selector == "" || option == "" {
			return toolregistry.ErrorPrefix + " selector and option are required"
		}
		tabCtx, cancel := chromedp.NewContext(allocatorCtx)
		defer cancel()
		runCtx, timeoutCancel := context.WithTimeout(tabCtx, 15*time.Second)
		defer timeoutCancel()
		var nodes []*cdp.Node
		if err := chromedp.Run(runCtx,
			chromedp.Nodes(selector, &nodes, chromedp.ByQuery),
			chromedp.SetValue(selector, option, chromedp.ByQuery),
		); err != nil {
			return fmt.Sprintf("%s select: %v", toolregistry.ErrorPrefix, err)
		}
		return fmt.Sprintf("selected %q in %s", option, selector)
	})
}
