package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	goredis "github.com/redis/go-redis/v9"

	"AgentReceipt/internal/attestation"
	"AgentReceipt/internal/chain/ethereum"
	"AgentReceipt/internal/chain/provider"
	"AgentReceipt/internal/config"
	"AgentReceipt/internal/jobs"
	"AgentReceipt/internal/ledger"
	"AgentReceipt/internal/observability/alerting"
	"AgentReceipt/internal/storage"
	"AgentReceipt/internal/storage/mysql"
	redisstore "AgentReceipt/internal/storage/redis"
)

type closer struct {
	name string
	fn   func() error
}

// resources 按需创建共享连接，并在退出时逆序释放。
type resources struct {
	cfg     *config.Config
	log     *slog.Logger
	db      *sql.DB
	redis   *goredis.Client
	closers []closer
}

func (r *resources) push(name string, fn func() error) {
	r.closers = append(r.closers, closer{name: name, fn: fn})
}

func (r *resources) close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		c := r.closers[i]
		if err := c.fn(); err != nil {
			r.log.Debug("释放资源失败", slog.String("resource", c.name), slog.Any("error", err))
		}
	}
}

func (r *resources) mysql(ctx context.Context) (*sql.DB, error) {
	if r.db != nil {
		return r.db, nil
	}
	db, err := mysql.Open(ctx, mysql.Config{
		DSN:             r.cfg.MySQL.DSN,
		MaxOpenConns:    r.cfg.MySQL.MaxOpenConns,
		MaxIdleConns:    r.cfg.MySQL.MaxIdleConns,
		ConnMaxLifetime: r.cfg.ConnMaxLifetime(),
	})
	if err != nil {
		return nil, err
	}
	r.db = db
	r.push("mysql", db.Close)
	return db, nil
}

func (r *resources) redisClient(ctx context.Context) (*goredis.Client, error) {
	if r.redis != nil {
		return r.redis, nil
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:     r.cfg.Redis.Address,
		Password: r.cfg.Redis.Password,
		DB:       r.cfg.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	r.redis = client
	r.push("redis", client.Close)
	return client, nil
}

func (r *resources) contentStore(ctx context.Context) (storage.Store, error) {
	switch r.cfg.Storage.Driver {
	case "redis":
		client, err := r.redisClient(ctx)
		if err != nil {
			return nil, err
		}
		return redisstore.NewStore(client, r.cfg.Redis.Prefix+":doc"), nil
	case "mysql":
		db, err := r.mysql(ctx)
		if err != nil {
			return nil, err
		}
		return mysql.NewBlobStore(db), nil
	default:
		return storage.NewMemoryStore(), nil
	}
}

// eventPublisher 返回锚定事件的发布者；memory 驱动下仅记录审计日志。
func (r *resources) eventPublisher() (ledger.EventPublisher, error) {
	if r.cfg.Events.Driver != "rabbitmq" {
		return nil, nil
	}
	pub, err := ledger.NewRabbitMQPublisher(ledger.RabbitMQPublisherConfig{
		URL:        r.cfg.Events.URL,
		Exchange:   r.cfg.Events.Exchange,
		RoutingKey: r.cfg.Events.RoutingKey,
	})
	if err != nil {
		return nil, err
	}
	r.push("event publisher", pub.Close)
	return pub, nil
}

// anchorLedger 返回配置的账本；合约账本同时返回合约地址，供校验引擎解码锚定交易。
func (r *resources) anchorLedger(ctx context.Context, registry *provider.Registry, signer *attestation.KeySigner, publisher ledger.EventPublisher) (ledger.Ledger, common.Address, error) {
	opts := []ledger.Option{ledger.WithPublisher(publisher)}
	switch r.cfg.Ledger.Driver {
	case "redis":
		client, err := r.redisClient(ctx)
		if err != nil {
			return nil, common.Address{}, err
		}
		return ledger.NewRedisLedger(client, r.cfg.Redis.Prefix+":anchor", opts...), common.Address{}, nil
	case "mysql":
		db, err := r.mysql(ctx)
		if err != nil {
			return nil, common.Address{}, err
		}
		return ledger.NewMySQLLedger(db, opts...), common.Address{}, nil
	case "contract":
		reader, err := registry.Reader(r.cfg.Ledger.Network)
		if err != nil {
			return nil, common.Address{}, err
		}
		client, ok := reader.(*ethereum.Client)
		if !ok {
			return nil, common.Address{}, fmt.Errorf("网络 %s 不支持合约账本", r.cfg.Ledger.Network)
		}
		address := common.HexToAddress(r.cfg.Ledger.ContractAddress)
		var auth *bind.TransactOpts
		if signer != nil {
			chainID, err := client.ChainID(ctx)
			if err != nil {
				return nil, common.Address{}, err
			}
			auth, err = bind.NewKeyedTransactorWithChainID(signer.PrivateKey(), chainID)
			if err != nil {
				return nil, common.Address{}, fmt.Errorf("创建交易签名器失败: %w", err)
			}
			auth.GasLimit = r.cfg.Ledger.GasLimit
		} else {
			r.log.Warn("未配置签名密钥，合约账本以只读方式运行")
		}
		if r.cfg.Ledger.ContractAddress == "" && r.cfg.Ledger.DeployContract {
			if auth == nil {
				return nil, common.Address{}, errors.New("部署锚定合约需要配置签名密钥")
			}
			contract, err := ledger.DeployContractLedger(ctx, client.ContractBackend(), auth, opts...)
			if err != nil {
				return nil, common.Address{}, err
			}
			r.log.Warn("已部署新的锚定合约，请将地址写入 ledger.contract_address", slog.String("address", contract.Address().Hex()))
			return contract, contract.Address(), nil
		}
		contract, err := ledger.NewContractLedger(address, client.ContractBackend(), auth, opts...)
		if err != nil {
			return nil, common.Address{}, err
		}
		return contract, address, nil
	default:
		return ledger.NewMemoryLedger(opts...), common.Address{}, nil
	}
}

func (r *resources) writerAddress(signer *attestation.KeySigner) common.Address {
	if common.IsHexAddress(r.cfg.Ledger.WriterAddress) {
		return common.HexToAddress(r.cfg.Ledger.WriterAddress)
	}
	if signer != nil {
		return signer.Address()
	}
	r.log.Warn("未配置锚定写入方身份，锚定请求将被拒绝")
	return common.Address{}
}

func (r *resources) jobBackends(ctx context.Context) (jobs.Store, jobs.Queue, error) {
	var store jobs.Store = jobs.NewMemoryStore()
	if r.cfg.Queue.Store == "mysql" {
		db, err := r.mysql(ctx)
		if err != nil {
			return nil, nil, err
		}
		store = jobs.NewMySQLStore(db)
	}

	switch r.cfg.Queue.Driver {
	case "redis":
		client, err := r.redisClient(ctx)
		if err != nil {
			return nil, nil, err
		}
		return store, jobs.NewRedisQueueWithClient(client, r.cfg.Queue.Name, 5*time.Second), nil
	case "rabbitmq":
		queue, err := jobs.NewRabbitMQQueue(jobs.RabbitMQConfig{
			URL:                r.cfg.Queue.URL,
			Queue:              r.cfg.Queue.Name,
			Prefetch:           r.cfg.Queue.Prefetch,
			Durable:            true,
			DeadLetterExchange: r.cfg.Queue.DeadLetterExchange,
		})
		if err != nil {
			return nil, nil, err
		}
		return store, queue, nil
	default:
		return store, jobs.NewMemoryQueue(1024), nil
	}
}

func (r *resources) alertDispatcher() alerting.Dispatcher {
	notifiers := []alerting.Notifier{&alerting.LogNotifier{}}
	if url := r.cfg.Alerting.WebhookURL; url != "" {
		notifiers = append(notifiers, &alerting.WebhookNotifier{URL: url, Client: &http.Client{Timeout: 5 * time.Second}})
	}
	return alerting.NewFanout(notifiers...)
}
