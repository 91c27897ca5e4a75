package nacos

import (
	"sync"

	"MinerWs/logger"
	"MinerWs/tools/errs"
	"MinerWs/tools/safe"

	"github.com/nacos-group/nacos-sdk-go/v2/vo"
	"go.uber.org/zap"
)

// ConfigSource 是 IConfigClient 中监听配置用到的子集
type ConfigSource interface {
	GetConfig(param vo.ConfigParam) (string, error)
	ListenConfig(param vo.ConfigParam) error
	CancelListenConfig(param vo.ConfigParam) error
}

// Watcher pulls one nacos data id and pushes every change to OnChange.
// The callback runs on the nacos SDK goroutine; a panic in it is logged.
type Watcher struct {
	src      ConfigSource
	dataID   string
	group    string
	onChange func(data string) error

	mu      sync.RWMutex
	current string
}

func NewWatcher(src ConfigSource, dataID, group string, onChange func(data string) error) *Watcher {
	return &Watcher{src: src, dataID: dataID, group: group, onChange: onChange}
}

// Start 首次拉取后开始监听；首次内容为空时只监听
func (w *Watcher) Start() error {
	content, err := w.src.GetConfig(vo.ConfigParam{DataId: w.dataID, Group: w.group})
	if err != nil {
		return errs.WrapMsg(err, "nacos get config", "dataId", w.dataID, "group", w.group)
	}
	if content != "" {
		w.apply(content)
	}
	err = w.src.ListenConfig(vo.ConfigParam{
		DataId: w.dataID,
		Group:  w.group,
		OnChange: func(namespace, group, dataId, data string) {
			logger.Info("nacos config changed", zap.String("dataId", dataId), zap.String("group", group))
			w.apply(data)
		},
	})
	if err != nil {
		return errs.WrapMsg(err, "nacos listen config", "dataId", w.dataID)
	}
	return nil
}

func (w *Watcher) apply(data string) {
	w.mu.Lock()
	w.current = data
	w.mu.Unlock()
	if w.onChange == nil {
		return
	}
	if err := safe.Call(func() error { return w.onChange(data) }); err != nil {
		logger.Warn("nacos config rejected", zap.String("dataId", w.dataID), zap.Error(err))
	}
}

// Current 最近一次收到的原始配置
func (w *Watcher) Current() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

func (w *Watcher) Stop() error {
	return w.src.CancelListenConfig(vo.ConfigParam{DataId: w.dataID, Group: w.group})
}
