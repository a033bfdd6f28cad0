/*
包 storage 提供基于 MongoDB 的持久化仓储实现，承载三层记忆系统的
权威数据：全局条目、租户文档与用户会话文档。

# 概述

本包通过官方 mongo-driver 封装连接管理与三个集合的文档读写。
缓存层不在此处：仓储只负责权威存储，读穿与失效由上层记忆存储
（memory 包）编排。

# 集合

  - bot_memory_global：全局知识条目，每条目一个文档。
  - bot_memory_tenant：租户事实，每租户一个文档（_id 为租户 ID）。
  - bot_memory_user：用户会话，每 (botType, userID) 一个文档。
*/
package storage
