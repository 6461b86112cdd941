// tile_pool.go
package Surfclass

import (
	"context"
)

// TileWorkerPool 瓦片工作池 - 控制并发数量
type TileWorkerPool struct {
	semaphore chan struct{}
	size      int
}

// NewTileWorkerPool 按并行数参数创建工作池（-1 全部CPU，-2 保留一个，N 为N个）
func NewTileWorkerPool(processors int) (*TileWorkerPool, error) {
	size, err := ResolveProcessors(processors)
	if err != nil {
		return nil, err
	}
	return &TileWorkerPool{
		semaphore: make(chan struct{}, size),
		size:      size,
	}, nil
}

// Size 工作槽数量
func (p *TileWorkerPool) Size() int {
	return p.size
}

// Acquire 获取工作槽，ctx 取消时返回错误
func (p *TileWorkerPool) Acquire(ctx context.Context) error {
	select {
	case p.semaphore <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release 释放工作槽
func (p *TileWorkerPool) Release() {
	<-p.semaphore
}
