package jseng

import (
	"github.com/dop251/goja"
)

// preludeSource evaluates to an installer. Called with the denial callback,
// it replaces eval and every function constructor reachable from the
// global object, then returns a deep-freeze helper.
const preludeSource = `(function (deny) {
	"use strict";
	function blocked(op) {
		return function () { return deny(op); };
	}
	var protos = [
		Object.getPrototypeOf(function () {}),
		Object.getPrototypeOf(function* () {}),
		Object.getPrototypeOf(async function () {})
	];
	for (var i = 0; i < protos.length; i++) {
		Object.defineProperty(protos[i], "constructor", {
			value: blocked("Function"), writable: false, configurable: false
		});
	}
	Object.defineProperty(globalThis, "Function", {
		value: blocked("Function"), writable: false, configurable: false
	});
	Object.defineProperty(globalThis, "eval", {
		value: blocked("eval"), writable: false, configurable: false
	});
	return function deepFreeze(value) {
		if (value !== null && typeof value === "object" && !Object.isFrozen(value)) {
			Object.getOwnPropertyNames(value).forEach(function (key) {
				deepFreeze(value[key]);
			});
			Object.freeze(value);
		}
		return value;
	};
})`

var preludeProgram = goja.MustCompile("prelude.js", preludeSource, true)
