// File: internal/browser/scripts/scripts.go
// Package scripts holds the JavaScript evaluated inside the receipt pages.
// Every snippet starts with a marker comment so that test doubles can tell
// them apart with Identify.
package scripts

import (
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/receipt-harvester/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Script names returned by Identify.
const (
	NameFindAll         = "find-all"
	NameClick           = "click"
	NameSuppressChrome  = "suppress-chrome"
	NameOuterHTML       = "outer-html"
	NameReadyState      = "ready-state"
	NameBodyText        = "body-text"
	NamePrint           = "print"
	NameConfirmFallback = "confirm-fallback"
)

func marker(name string) string { return "/* harvest:" + name + " */\n" }

// Identify returns the name of a snippet built by this package, or "".
func Identify(code string) string {
	const prefix = "/* harvest:"
	if !strings.HasPrefix(code, prefix) {
		return ""
	}
	rest := code[len(prefix):]
	end := strings.Index(rest, " */")
	if end < 0 {
		return ""
	}
	return rest[:end]
}

// resolver defines __resolve(sel), returning the filtered element list for a
// schemas.Selector encoded as JSON. Filtering mirrors Selector.Accepts.
const resolver = `
var __text = function (el) {
  var t = (el.tagName === 'INPUT') ? (el.value || '') : (el.innerText || el.textContent || '');
  return t.trim();
};
var __resolve = function (sel) {
  var nodes = [];
  if (sel.by === 'xpath') {
    var snap = document.evaluate(sel.query, document, null, XPathResult.ORDERED_NODE_SNAPSHOT_TYPE, null);
    for (var i = 0; i < snap.snapshotLength; i++) { nodes.push(snap.snapshotItem(i)); }
  } else {
    nodes = Array.prototype.slice.call(document.querySelectorAll(sel.query));
  }
  return nodes.filter(function (el) {
    var t = __text(el);
    if (sel.text && t !== sel.text) { return false; }
    if (sel.contains && t.indexOf(sel.contains) < 0) { return false; }
    if (sel.exclude && t.indexOf(sel.exclude) >= 0) { return false; }
    return true;
  });
};
`

func encodeSelector(sel schemas.Selector) string {
	b, err := json.Marshal(sel)
	if err != nil {
		// Selector only holds strings.
		panic(fmt.Sprintf("scripts: cannot encode selector: %v", err))
	}
	return string(b)
}

// FindAll builds a snippet returning an array of element descriptors
// (tag, text, href, value, visible) for every element matching sel.
func FindAll(sel schemas.Selector) string {
	return marker(NameFindAll) + `(function () {` + resolver + `
  return __resolve(` + encodeSelector(sel) + `).map(function (el) {
    return {
      tag: el.tagName.toLowerCase(),
      text: __text(el),
      href: el.href || '',
      value: el.value || '',
      visible: !!(el.offsetWidth || el.offsetHeight || el.getClientRects().length)
    };
  });
})()`
}

// Click builds a snippet that re-resolves the handle by selector and index,
// scrolls it into view and clicks it. It evaluates to false when the element
// is gone.
func Click(h schemas.ElementHandle) string {
	return marker(NameClick) + `(function () {` + resolver + `
  var el = __resolve(` + encodeSelector(h.Selector) + `)[` + fmt.Sprint(h.Index) + `];
  if (!el) { return false; }
  el.scrollIntoView({block: 'center'});
  el.click();
  return true;
})()`
}

// SuppressChrome hides alerts, toasts, banners and close icons and installs
// a print stylesheet that keeps them hidden in rendered output.
const SuppressChrome = `/* harvest:suppress-chrome */
(function () {
  var selectors = [
    '.alert', '.notice', '.flash', '.flash-message', '.message', '.toast', '.banner',
    '.notification', 'div[role="alert"]', '.close', 'button.close', '[aria-label="close"]',
    '[aria-label="Close"]', '.closeButton', '.close-button', '.icon-close'
  ];
  selectors.forEach(function (s) {
    document.querySelectorAll(s).forEach(function (el) { el.style.display = 'none'; });
  });
  document.querySelectorAll('*').forEach(function (el) {
    var t = (el.textContent || '').trim();
    if (el.children.length === 0 && (t === '×' || t === '✕')) { el.style.display = 'none'; }
  });
  if (!document.getElementById('harvest-print-style')) {
    var style = document.createElement('style');
    style.id = 'harvest-print-style';
    style.textContent = '@media print { ' + selectors.join(', ') + ' { display: none !important; } }';
    document.head.appendChild(style);
  }
  return true;
})()`

// OuterHTML evaluates to the serialized document.
const OuterHTML = `/* harvest:outer-html */
document.documentElement.outerHTML`

// ReadyState evaluates to document.readyState.
const ReadyState = `/* harvest:ready-state */
document.readyState`

// BodyText evaluates to the visible text of the body.
const BodyText = `/* harvest:body-text */
(document.body ? document.body.innerText : '')`

// Print opens the browser print dialog without blocking the evaluation.
const Print = `/* harvest:print */
(function () { setTimeout(function () { window.print(); }, 0); return true; })()`

// ConfirmFallback builds a snippet that clicks the first button whose text
// contains one of texts, or else the first button inside a dialog, modal or
// confirm container. It evaluates to true when something was clicked.
func ConfirmFallback(texts []string) string {
	encoded, err := json.Marshal(texts)
	if err != nil {
		panic(fmt.Sprintf("scripts: cannot encode confirm texts: %v", err))
	}
	return marker(NameConfirmFallback) + `(function () {
  var texts = ` + string(encoded) + `;
  var buttons = Array.prototype.slice.call(document.querySelectorAll('button, input[type="button"], input[type="submit"], a'));
  for (var i = 0; i < buttons.length; i++) {
    var t = (buttons[i].innerText || buttons[i].value || '').trim();
    for (var j = 0; j < texts.length; j++) {
      if (t.indexOf(texts[j]) >= 0) { buttons[i].click(); return true; }
    }
  }
  var dialogButton = document.querySelector('.dialog button, .modal button, .confirm button');
  if (dialogButton) { dialogButton.click(); return true; }
  return false;
})()`
}
