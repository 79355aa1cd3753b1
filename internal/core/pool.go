package core

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"acme-distributed/internal/config"
	"acme-distributed/internal/connector"
)

// Pool 按组打开连接器，每次运行每个组只连接一次
type Pool struct {
	deps    connector.Deps
	factory func(config.Connector, connector.Deps) (connector.Connector, error)
	logger  *logrus.Entry

	// 缓存已创建的连接器实例，连接失败的记录为 nil
	connectors map[string]connector.Connector
	groups     map[string][]connector.Connector
	order      []connector.Connector
}

// NewPool 创建连接器池
func NewPool(deps connector.Deps, logger *logrus.Entry) *Pool {
	return &Pool{
		deps:       deps,
		factory:    connector.New,
		logger:     logger,
		connectors: make(map[string]connector.Connector),
		groups:     make(map[string][]connector.Connector),
	}
}

// Open 返回组内已连接的连接器；连接失败的连接器被记录并排除
func (p *Pool) Open(ctx context.Context, group config.Group) ([]connector.Connector, error) {
	if conns, ok := p.groups[group.Name]; ok {
		return conns, nil
	}

	logger := p.logger.WithField("group", group.Name)
	var conns []connector.Connector
	for _, cfg := range group.Connectors {
		conn, seen := p.connectors[cfg.Name]
		if !seen {
			conn = p.connect(ctx, cfg, logger)
			p.connectors[cfg.Name] = conn
		}
		if conn != nil {
			conns = append(conns, conn)
		}
	}

	if len(conns) == 0 {
		return nil, fmt.Errorf("连接器组 %s 中没有可用的连接器", group.Name)
	}
	logger.Infof("已连接 %d/%d 个连接器", len(conns), len(group.Connectors))
	p.groups[group.Name] = conns
	return conns, nil
}

func (p *Pool) connect(ctx context.Context, cfg config.Connector, logger *logrus.Entry) connector.Connector {
	conn, err := p.factory(cfg, p.deps)
	if err != nil {
		logger.Errorf("创建连接器 %s 失败: %v", cfg.Name, err)
		return nil
	}
	if err := conn.Connect(ctx); err != nil {
		if !connector.IsError(err) {
			err = &connector.Error{Connector: cfg.Name, Op: "连接", Err: err}
		}
		logger.Errorf("%v", err)
		return nil
	}
	p.order = append(p.order, conn)
	return conn
}

// CloseAll 断开所有连接器
func (p *Pool) CloseAll() {
	for _, conn := range p.order {
		if err := conn.Disconnect(); err != nil {
			p.logger.Warnf("断开连接器 %s 失败: %v", conn.Name(), err)
		}
	}
	p.order = nil
	p.connectors = make(map[string]connector.Connector)
	p.groups = make(map[string][]connector.Connector)
}
