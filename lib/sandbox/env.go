package sandbox

import (
	"encoding/base64"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/dop251/goja"
	"github.com/ipsleuth/ipsleuth"
)

// cookieJar is the explicit mutable credential store the sandboxed
// document.cookie property is bridged to. The observer hook fires on
// every write and is the sole decision point for acquisition completion.
type cookieJar struct {
	values   map[string]string
	observer func()
}

func (j *cookieJar) write(raw string) {
	pair, _, _ := strings.Cut(raw, ";")
	name, value, ok := strings.Cut(strings.TrimSpace(pair), "=")
	if !ok || name == "" {
		return
	}

	j.values[name] = value
	if j.observer != nil {
		j.observer()
	}
}

func (j *cookieJar) read() string {
	parts := make([]string, 0, len(j.values))
	for name, value := range j.values {
		parts = append(parts, name+"="+value)
	}
	sort.Strings(parts)
	return strings.Join(parts, "; ")
}

// credentials returns the pair once both required names have been
// written. A lone value reports not-ok so acquisition stays pending.
func (j *cookieJar) credentials() (Credentials, bool) {
	session, okSession := j.values[ipsleuth.SessionKeyCookie]
	proof, okProof := j.values[ipsleuth.ProofTokenCookie]
	if !okSession || !okProof {
		return Credentials{}, false
	}

	return Credentials{SessionKey: session, ProofToken: proof}, true
}

// environment is the minimal browser surface the challenge script
// expects: a document, a deterministic navigator, stubbed drawing
// surfaces, and a cooperative timer loop.
type environment struct {
	vm   *goja.Runtime
	jar  *cookieJar
	loop *eventLoop
	lg   *slog.Logger
}

func newEnvironment(vm *goja.Runtime, lg *slog.Logger, userAgent string, verbose bool) *environment {
	env := &environment{
		vm:   vm,
		jar:  &cookieJar{values: map[string]string{}},
		loop: newEventLoop(vm),
		lg:   lg,
	}

	global := vm.GlobalObject()

	// window === globalThis, like in a real browser.
	vm.Set("window", global)
	vm.Set("self", global)
	vm.Set("globalThis", global)

	env.installNavigator(userAgent)
	env.installDocument()
	env.installLocation(verbose)
	env.installTimers()
	env.installMisc(verbose)

	return env
}

func (env *environment) installNavigator(userAgent string) {
	vm := env.vm

	nav := vm.NewObject()
	nav.Set("userAgent", userAgent)
	nav.Set("appVersion", strings.TrimPrefix(userAgent, "Mozilla/"))
	nav.Set("platform", "Win32")
	nav.Set("language", "zh-CN")
	nav.Set("languages", []string{"zh-CN", "zh", "en"})
	nav.Set("webdriver", false)
	nav.Set("hardwareConcurrency", 8)
	nav.Set("cookieEnabled", true)
	nav.Set("plugins", vm.NewArray(vm.NewObject(), vm.NewObject(), vm.NewObject()))
	vm.Set("navigator", nav)

	screen := vm.NewObject()
	screen.Set("width", 1920)
	screen.Set("height", 1080)
	screen.Set("availWidth", 1920)
	screen.Set("availHeight", 1040)
	screen.Set("colorDepth", 24)
	vm.Set("screen", screen)
}

func (env *environment) installDocument() {
	vm := env.vm

	doc := vm.NewObject()
	doc.Set("title", "")
	doc.Set("referrer", "")
	doc.Set("readyState", "complete")
	doc.Set("createElement", func(call goja.FunctionCall) goja.Value {
		return env.newElement(call.Argument(0).String())
	})
	doc.Set("getElementById", func(call goja.FunctionCall) goja.Value {
		return goja.Null()
	})
	doc.Set("querySelector", func(call goja.FunctionCall) goja.Value {
		return goja.Null()
	})
	doc.Set("addEventListener", func(call goja.FunctionCall) goja.Value {
		return goja.Undefined()
	})
	doc.Set("body", env.newElement("body"))
	doc.Set("documentElement", env.newElement("html"))
	vm.Set("document", doc)

	// document.cookie is an accessor bridged into the jar; every write
	// the script performs lands in the observer.
	jarObj := vm.NewObject()
	jarObj.Set("read", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(env.jar.read())
	})
	jarObj.Set("write", func(call goja.FunctionCall) goja.Value {
		env.jar.write(call.Argument(0).String())
		return goja.Undefined()
	})
	vm.Set("__cookieStore", jarObj)

	vm.RunString(`Object.defineProperty(document, "cookie", {
	get: function() { return __cookieStore.read(); },
	set: function(v) { __cookieStore.write(String(v)); },
	configurable: true
});`)
}

// newElement builds a generic element stub. Canvas elements additionally
// answer getContext with deterministic drawing surfaces so fingerprinting
// probes neither crash nor branch on environment noise.
func (env *environment) newElement(tag string) *goja.Object {
	vm := env.vm

	elem := vm.NewObject()
	elem.Set("tagName", strings.ToUpper(tag))
	elem.Set("style", vm.NewObject())
	elem.Set("innerHTML", "")
	elem.Set("setAttribute", func(call goja.FunctionCall) goja.Value { return goja.Undefined() })
	elem.Set("getAttribute", func(call goja.FunctionCall) goja.Value { return goja.Null() })
	elem.Set("appendChild", func(call goja.FunctionCall) goja.Value { return call.Argument(0) })
	elem.Set("removeChild", func(call goja.FunctionCall) goja.Value { return call.Argument(0) })
	elem.Set("addEventListener", func(call goja.FunctionCall) goja.Value { return goja.Undefined() })

	if strings.EqualFold(tag, "canvas") {
		elem.Set("width", 300)
		elem.Set("height", 150)
		elem.Set("getContext", func(call goja.FunctionCall) goja.Value {
			switch call.Argument(0).String() {
			case "2d":
				return env.new2DContext()
			case "webgl", "experimental-webgl", "webgl2":
				return env.newGLContext()
			default:
				return goja.Null()
			}
		})
		elem.Set("toDataURL", func(call goja.FunctionCall) goja.Value {
			return vm.ToValue(fixedDataURL)
		})
	}

	return elem
}

// fixedDataURL and fixedPixel are the deterministic answers given to
// rendering probes. Consistent values across runs keep fingerprinting
// branches stable.
const fixedDataURL = "data:image/png;base64,iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAYAAAAfFcSJAAAADUlEQVR42mP8z8BQDwAEhQGAhKmMIQAAAABJRU5ErkJggg=="

var fixedPixel = [4]int{127, 127, 127, 255}

func (env *environment) new2DContext() *goja.Object {
	vm := env.vm

	ctx := vm.NewObject()
	for _, noop := range []string{"fillRect", "strokeRect", "clearRect", "fillText", "strokeText", "beginPath", "closePath", "arc", "fill", "stroke", "rotate", "translate", "save", "restore"} {
		ctx.Set(noop, func(call goja.FunctionCall) goja.Value { return goja.Undefined() })
	}
	ctx.Set("fillStyle", "#000000")
	ctx.Set("font", "10px sans-serif")
	ctx.Set("measureText", func(call goja.FunctionCall) goja.Value {
		m := vm.NewObject()
		m.Set("width", float64(8*len(call.Argument(0).String())))
		return m
	})
	ctx.Set("getImageData", func(call goja.FunctionCall) goja.Value {
		w := int(call.Argument(2).ToInteger())
		h := int(call.Argument(3).ToInteger())
		if w <= 0 || w > 4096 {
			w = 1
		}
		if h <= 0 || h > 4096 {
			h = 1
		}

		data := make([]int64, 0, w*h*4)
		for i := 0; i < w*h; i++ {
			for _, channel := range fixedPixel {
				data = append(data, int64(channel))
			}
		}

		img := vm.NewObject()
		img.Set("width", w)
		img.Set("height", h)
		img.Set("data", data)
		return img
	})

	return ctx
}

func (env *environment) newGLContext() *goja.Object {
	vm := env.vm

	ctx := vm.NewObject()
	ctx.Set("getParameter", func(call goja.FunctionCall) goja.Value {
		switch call.Argument(0).ToInteger() {
		case 0x1F00: // VENDOR
			return vm.ToValue("WebKit")
		case 0x1F01: // RENDERER
			return vm.ToValue("WebKit WebGL")
		case 0x1F02: // VERSION
			return vm.ToValue("WebGL 1.0 (OpenGL ES 2.0 Chromium)")
		default:
			return vm.ToValue(0)
		}
	})
	ctx.Set("getExtension", func(call goja.FunctionCall) goja.Value { return goja.Null() })
	ctx.Set("getSupportedExtensions", func(call goja.FunctionCall) goja.Value {
		return vm.NewArray()
	})

	return ctx
}

func (env *environment) installLocation(verbose bool) {
	vm := env.vm

	loc := vm.NewObject()
	loc.Set("href", ipsleuth.DefaultServiceRoot+"/")
	loc.Set("protocol", "https:")
	loc.Set("host", strings.TrimPrefix(ipsleuth.DefaultServiceRoot, "https://"))
	loc.Set("hostname", strings.TrimPrefix(ipsleuth.DefaultServiceRoot, "https://"))
	loc.Set("pathname", "/")
	loc.Set("search", "")
	vm.Set("location", loc)

	// __sandboxNav receives the calls the patch pass rewrote navigation
	// into. Each is a no-op that keeps the script's control flow alive.
	nav := vm.NewObject()
	for _, name := range []string{"reload", "replace", "assign", "open"} {
		nav.Set(name, env.navNoop(name, verbose))
	}
	nav.Set("href", "")
	vm.Set("__sandboxNav", nav)
}

func (env *environment) navNoop(name string, verbose bool) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		if verbose {
			env.lg.Debug("sandboxed script attempted navigation", "call", name, "argument", call.Argument(0).String())
		}
		return goja.Undefined()
	}
}

func (env *environment) installTimers() {
	vm := env.vm

	vm.Set("setTimeout", env.loop.setTimeout)
	vm.Set("setInterval", env.loop.setInterval)
	vm.Set("clearTimeout", env.loop.clear)
	vm.Set("clearInterval", env.loop.clear)
}

func (env *environment) installMisc(verbose bool) {
	vm := env.vm

	vm.Set("atob", func(call goja.FunctionCall) goja.Value {
		decoded, err := base64.StdEncoding.DecodeString(call.Argument(0).String())
		if err != nil {
			panic(vm.NewTypeError("invalid base64"))
		}
		return vm.ToValue(string(decoded))
	})
	vm.Set("btoa", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(base64.StdEncoding.EncodeToString([]byte(call.Argument(0).String())))
	})

	console := vm.NewObject()
	for _, level := range []string{"log", "info", "warn", "error", "debug"} {
		console.Set(level, func(call goja.FunctionCall) goja.Value {
			if verbose {
				args := make([]string, 0, len(call.Arguments))
				for _, a := range call.Arguments {
					args = append(args, a.String())
				}
				env.lg.Debug("sandbox console", "message", fmt.Sprint(strings.Join(args, " ")))
			}
			return goja.Undefined()
		})
	}
	vm.Set("console", console)

	storage := vm.NewObject()
	backing := map[string]string{}
	storage.Set("getItem", func(call goja.FunctionCall) goja.Value {
		if v, ok := backing[call.Argument(0).String()]; ok {
			return vm.ToValue(v)
		}
		return goja.Null()
	})
	storage.Set("setItem", func(call goja.FunctionCall) goja.Value {
		backing[call.Argument(0).String()] = call.Argument(1).String()
		return goja.Undefined()
	})
	storage.Set("removeItem", func(call goja.FunctionCall) goja.Value {
		delete(backing, call.Argument(0).String())
		return goja.Undefined()
	})
	vm.Set("localStorage", storage)
	vm.Set("sessionStorage", storage)
}
