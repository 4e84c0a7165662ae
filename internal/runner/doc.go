// Package runner runs many virtual users of the same script at once.
//
// Each virtual user is an [engine.Engine] driving its own browser. The
// runner provides:
//   - Start pacing (ramp rate, users started per second)
//   - One concurrency gauge shared by every engine
//   - A restart policy with exponential backoff and jitter for users whose
//     browser failed
//
// # Basic Usage
//
//	r := runner.New(runner.Options{
//		Users:    10,
//		RampRate: 2,
//		Compile:  func() (*script.Script, error) { return script.CompileFile(compiler, path) },
//		Drivers:  func() browser.Driver { return browser.NewChromeDriver(chromeOpts) },
//		Reporter: emitter,
//		Engine:   engine.Options{Collector: collector},
//	})
//	result, err := r.Run(ctx)
//
// Every session compiles the script again: compiled conditions keep per-step
// state and must never be shared between engines.
//
// # Error Handling
//
// Assertions never reach the runner; the engine records them. Errors that
// would recur for every user ([engine.ScriptError], [script.CompileError])
// stop the whole run. Anything else stops or restarts the affected user
// only, as decided by [RestartPolicy] and [Restartable].
package runner
