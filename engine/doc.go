// # Building an Engine
//
//	s, err := redisstore.New(client)
//	eng, err := engine.New(s,
//	    engine.WithLogger(logger),
//	    engine.WithConfig(bullmq.DefaultConfig().Apply(bullmq.WithConcurrency(4))),
//	    engine.WithExtension(myExtension),
//	    engine.WithMiddleware(myMiddleware),
//	)
//
// # Registering Work
//
//	emails, err := eng.Queue("email-queue", bullmq.WithConcurrency(2))
//	err = emails.RegisterHandler("welcome-email", sendWelcome)
//
//	// Typed definitions decode the JSON payload before calling the handler.
//	err = engine.Register(eng, "sms-queue", LoginSMS)
//
// # Enqueuing Jobs
//
//	id, err := eng.Enqueue(ctx, "email-queue", "welcome-email", input,
//	    job.WithPriority(job.PriorityHigh),
//	    job.WithMaxAttempts(5),
//	    job.WithBackoff(backoff.KindExponential, 2*time.Second),
//	    job.WithDelay(5*time.Minute),
//	)
//
// # Running
//
//	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
//	defer stop()
//	err = eng.Run(ctx) // returns on signal or on a fatal store error
//	err = eng.Close(context.Background())
//
// # Options
//
//   - [WithLogger]: set the shared logger
//   - [WithConfig]: set the base queue configuration
//   - [WithExtension]: register a lifecycle extension
//   - [WithMiddleware]: add a middleware to the execution chain
//   - [WithStoreRetry]: tune the store retry layer
//   - [WithTracerProvider]: set the OpenTelemetry tracer provider
//   - [WithMeterProvider]: set the OpenTelemetry meter provider
package engine
