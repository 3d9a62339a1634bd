package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/tfkr-ae/mimic"
	"github.com/tfkr-ae/mimic/api"
	"github.com/tfkr-ae/mimic/domain"
	"github.com/tfkr-ae/mimic/intercept"
	"github.com/tfkr-ae/mimic/service"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

func newServeCommand(c *cli) *cobra.Command {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the intercepting proxy and the control plane",
		RunE: func(cmd *cobra.Command, args []string) error {
			withChrome, _ := cmd.Flags().GetBool("chrome")
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return c.serve(ctx, withChrome)
		},
	}

	serveCmd.Flags().String("proxy-address", "", "Proxy listen address")
	serveCmd.Flags().String("proxy-port", "", "Proxy listen port")
	serveCmd.Flags().String("api-address", "", "Control plane listen address")
	serveCmd.Flags().String("api-port", "", "Control plane listen port")
	serveCmd.Flags().Duration("forward-timeout", 0, "Upper bound for one upstream exchange")
	serveCmd.Flags().Bool("chrome", false, "Launch Chrome through the proxy once it is listening")
	c.v.BindPFlag("proxy_address", serveCmd.Flags().Lookup("proxy-address"))
	c.v.BindPFlag("proxy_port", serveCmd.Flags().Lookup("proxy-port"))
	c.v.BindPFlag("api_address", serveCmd.Flags().Lookup("api-address"))
	c.v.BindPFlag("api_port", serveCmd.Flags().Lookup("api-port"))
	c.v.BindPFlag("forward_timeout", serveCmd.Flags().Lookup("forward-timeout"))
	return serveCmd
}

// serve runs until ctx is cancelled or either server fails. A corrupt mapping index
// aborts startup.
func (c *cli) serve(ctx context.Context, withChrome bool) error {
	cfg := c.config

	mappings, closeStorage, err := service.Open(cfg.StorageDir, cfg.StorageBackend, c.logger)
	if err != nil {
		if errors.Is(err, domain.ErrStorageCorrupt) {
			c.logger.Error("refusing to start with unreadable mappings", "dir", cfg.StorageDir, "error", err)
		}
		return fmt.Errorf("%w : %w", ErrOpenStorage, err)
	}
	defer closeStorage()

	engine, err := intercept.NewEngine(mappings, intercept.WithEngineLogger(c.logger))
	if err != nil {
		return err
	}

	proxy, err := mimic.New(
		mimic.WithLogger(c.logger),
		mimic.WithConfig(cfg),
		mimic.WithTLS(),
		mimic.WithEngine(engine),
		mimic.WithDefaultModifiers(),
	)
	if err != nil {
		return fmt.Errorf("%w : %w", ErrStartProxy, err)
	}
	proxyListener, err := proxy.GetListener(cfg.ProxyAddress, cfg.ProxyPort)
	if err != nil {
		return fmt.Errorf("%w : %w", ErrStartProxy, err)
	}

	apiServer, err := api.New(mappings, api.WithLogger(c.logger))
	if err != nil {
		proxyListener.Close()
		return fmt.Errorf("%w : %w", ErrStartAPI, err)
	}
	apiListener, err := net.Listen("tcp", net.JoinHostPort(cfg.APIAddress, cfg.APIPort))
	if err != nil {
		proxyListener.Close()
		return fmt.Errorf("%w : %w", ErrStartAPI, err)
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := proxy.Serve(proxyListener); err != nil && !errors.Is(err, net.ErrClosed) && groupCtx.Err() == nil {
			return fmt.Errorf("%w : %w", ErrStartProxy, err)
		}
		return nil
	})
	group.Go(func() error {
		return apiServer.Serve(apiListener)
	})
	group.Go(func() error {
		<-groupCtx.Done()
		c.logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		proxyListener.Close()
		proxy.Close()
		return apiServer.Shutdown(shutdownCtx)
	})

	if withChrome {
		chrome, err := proxy.StartChrome()
		if err != nil {
			c.logger.Warn("launching chrome", "error", err)
		} else {
			go chrome.Wait()
		}
	}

	c.logger.Info("mimic ready",
		"proxy", net.JoinHostPort(proxy.Addr, proxy.Port),
		"api", apiListener.Addr().String(),
		"mappings", len(mappings.ListWithMetadata()),
	)
	return group.Wait()
}
