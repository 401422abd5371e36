// Command edge starts the application server described by a configuration
// file: HTTP, TCP and AMQP listeners in front of one dispatcher, with the
// connector factories registered in the container.
//
// Exit codes: 0 on a clean shutdown, 1 on a startup failure, 2 on an
// unrecoverable runtime failure.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/Manzoomeh/BasisCore.Server.Edge-sub001/pkg/config"
	"github.com/Manzoomeh/BasisCore.Server.Edge-sub001/pkg/connections/mongodb"
	"github.com/Manzoomeh/BasisCore.Server.Edge-sub001/pkg/connections/rabbitmq"
	"github.com/Manzoomeh/BasisCore.Server.Edge-sub001/pkg/connections/restclient"
	"github.com/Manzoomeh/BasisCore.Server.Edge-sub001/pkg/connections/sqldb"
	"github.com/Manzoomeh/BasisCore.Server.Edge-sub001/pkg/di"
	"github.com/Manzoomeh/BasisCore.Server.Edge-sub001/pkg/dispatcher"
	"github.com/Manzoomeh/BasisCore.Server.Edge-sub001/pkg/listener/httpserv"
	"github.com/Manzoomeh/BasisCore.Server.Edge-sub001/pkg/listener/rabbit"
	"github.com/Manzoomeh/BasisCore.Server.Edge-sub001/pkg/listener/tcpserv"
	"github.com/Manzoomeh/BasisCore.Server.Edge-sub001/pkg/observability"
)

func main() {
	var (
		instance   = flag.String("n", "edge", "instance name used for log scoping")
		configPath = flag.String("c", "", "configuration file (default $EDGE_CONFIG_FILE, then config.json)")
	)
	flag.Parse()

	logger := observability.NewLogger(*instance)

	defer func() {
		if r := recover(); r != nil {
			logger.Error("unrecoverable failure", map[string]interface{}{"panic": fmt.Sprint(r)})
			os.Exit(2)
		}
	}()

	d, err := build(*instance, *configPath, logger)
	if err != nil {
		logger.Error("startup failed", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}

	if err := d.Run(context.Background()); err != nil {
		logger.Error("startup failed", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}
}

// build assembles the dispatcher, its listeners and the connector
// registrations from the configuration file
func build(instance, configPath string, logger observability.Logger) (*dispatcher.Dispatcher, error) {
	if logger == nil {
		logger = observability.NewLogger(instance)
	}
	tree, err := config.Load(configPath, instance)
	if err != nil {
		return nil, err
	}

	var metrics observability.MetricsClient
	if tree.GetBool("metrics.enabled") {
		metrics = observability.NewPrometheusMetricsClient(tree.GetString("metrics.namespace"))
	}

	d, err := dispatcher.New(tree, logger, metrics)
	if err != nil {
		return nil, err
	}
	registerConnectors(d)

	if tree.IsSet(config.KeyServer) {
		httpCfg, err := httpserv.ParseConfig(tree)
		if err != nil {
			return nil, err
		}
		d.AddListener(httpserv.New(httpCfg, logger.WithPrefix(instance+".http")))
	}

	if tree.IsSet(config.KeyReceiver) || tree.IsSet(config.KeySender) || tree.IsSet(config.KeyEndpoint) {
		tcpCfg, err := tcpserv.ParseConfig(tree)
		if err != nil {
			return nil, err
		}
		d.AddListener(tcpserv.New(tcpCfg, logger.WithPrefix(instance+".tcp")))
	}

	rabbitCfgs, err := rabbit.ParseConfigs(tree)
	if err != nil {
		return nil, err
	}
	for _, rc := range rabbitCfgs {
		d.AddListener(rabbit.New(rc, logger.WithPrefix(instance+".rabbit")))
	}

	return d, nil
}

// registerConnectors wires the keyed connector factories. Construction is
// lazy: an unconfigured tag fails at first resolution, not at startup.
func registerConnectors(d *dispatcher.Dispatcher) {
	d.ConfigureServices(func(p *di.Provider) {
		di.RegisterKeyed[*mongodb.Connection](p, di.Singleton,
			func(sp *di.Provider, keys []string) (*mongodb.Connection, error) {
				tree, logger, tag, err := connectorDeps(sp, keys)
				if err != nil {
					return nil, err
				}
				return mongodb.New(tag, tree.Options(config.KeyDatabase+"."+tag), logger)
			})

		di.RegisterKeyed[*rabbitmq.Producer](p, di.Singleton,
			func(sp *di.Provider, keys []string) (*rabbitmq.Producer, error) {
				tree, logger, tag, err := connectorDeps(sp, keys)
				if err != nil {
					return nil, err
				}
				return rabbitmq.New(tag, tree.Options(config.KeyRabbitMQ+"."+tag), logger)
			})

		// REST client tags live at the top level of the tree
		di.RegisterKeyed[*restclient.Client](p, di.Singleton,
			func(sp *di.Provider, keys []string) (*restclient.Client, error) {
				tree, logger, tag, err := connectorDeps(sp, keys)
				if err != nil {
					return nil, err
				}
				return restclient.New(tag, tree.Options(tag), logger)
			})

		di.RegisterKeyed[*sqldb.Connection](p, di.Singleton,
			func(sp *di.Provider, keys []string) (*sqldb.Connection, error) {
				tree, logger, tag, err := connectorDeps(sp, keys)
				if err != nil {
					return nil, err
				}
				return sqldb.New(tag, tree.Options("sql."+tag), logger)
			})
	})
}

func connectorDeps(sp *di.Provider, keys []string) (*config.Tree, observability.Logger, string, error) {
	if len(keys) != 1 {
		return nil, nil, "", fmt.Errorf("connector resolution takes exactly one tag, got %d", len(keys))
	}
	tree, err := di.Resolve[*config.Tree](sp)
	if err != nil {
		return nil, nil, "", err
	}
	logger, err := di.Resolve[observability.Logger](sp)
	if err != nil {
		return nil, nil, "", err
	}
	return tree, logger, keys[0], nil
}
