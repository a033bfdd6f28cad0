/*
包 cache 提供分层读穿缓存原语：进程内 LRU 层 + Redis 分布式层。

# 概述

本包是记忆子系统的缓存基座。Layered 将多个 Tier 按查询顺序组合，
读取时逐层探测，在第 i 层命中后回填 0..i-1 层（读时写穿）；
写入与失效并发扇出到所有层。各缓存层均为非权威层——任何一层的
读写失败都被降级为未命中并记录日志，绝不向调用方传播，
数据正确性只依赖缓存之后的持久化存储。

# 核心类型

  - Tier：单层缓存接口，值以序列化字节存储，各层持有自己的副本。
  - Memory：进程内缓存层，按访问序 LRU 淘汰，条目带 TTL，
    过期条目视为缺失并在下次读取时惰性删除。
  - Redis：基于 go-redis 的分布式缓存层，按键前缀隔离，
    Clear 通过 SCAN 前缀批量删除。
  - Layered：分层组合，读穿回填 + 并发扇出写。

# 错误语义

各层在未命中时返回 ErrCacheMiss（可用 IsCacheMiss 判断），
其余错误由 Layered 吞掉并降级为未命中。
*/
package cache
