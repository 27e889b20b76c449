// Package hub 房间实时广播中心
//
// 每个房间由 6 位数字房间号标识。Hub 负责：
//
//   - 维护房间内的存活连接和客户端标识（Registry）
//   - 区分新加入与页面刷新导致的重连
//   - 向房间内所有连接广播消息，匿名房间中隐藏 client_id
//   - 定期踢出长时间无活动的会话
//
// 基本用法：
//
//	h, err := hub.New(hub.DefaultConfig(), hub.WithLogger(log))
//	if err != nil {
//	    return err
//	}
//	go h.Run(ctx)
//
//	// 在 HTTP 路由中
//	_ = h.ServeWS(w, r, roomID, authenticator)
//
//	// 外部推送，立即返回
//	_ = h.Broadcast("000123", hub.RecordDeleteNotice("000123", 42))
//
// 关闭码：4000 认证异常，4001 房间号格式错误，4002 未登录，4003 房间不一致，4004 消息格式错误。
package hub
