package app

// Shutdown performs graceful shutdown of all components.
// It stops the application in the following order:
//  1. Cancels the application context
//  2. Stops the Telegram connector, so no new commands arrive
//  3. Stops the cleanup scheduler and waits for running tasks
//  4. Stops the backup worker
//  5. Waits for background goroutines and closes the history index
//
// The method is thread-safe and can be called from multiple goroutines.
func (a *App) Shutdown() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.started {
		return nil
	}

	err := a.shutdownInternal()
	a.started = false
	a.logger.Info("Application shutdown complete")
	return err
}

// shutdownInternal stops every component that was created. It also cleans
// up after a partially failed Initialize.
func (a *App) shutdownInternal() error {
	if a.cancel != nil {
		a.cancel()
	}

	if a.telegram != nil {
		a.telegram.Stop()
		a.telegram = nil
	}

	a.stopScheduler()

	if a.worker != nil {
		a.worker.Stop()
		a.worker = nil
	}

	a.background.Wait()

	var err error
	if a.index != nil {
		err = a.index.Close()
		if err != nil {
			a.logger.Error("Failed to close history index", err)
		}
		a.index = nil
	}

	return err
}
