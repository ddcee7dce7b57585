package http_api

// routes sets up the routes for the HTTP server.
func (s *HTTPServer) routes() {
	v1 := s.router.Group("/api/v1")

	v1.POST("/payments/:id/approve", s.approvePayment)
	v1.POST("/payments/:id/complete", s.completePayment)
	v1.POST("/payments/:id/cancel", s.cancelPayment)
	v1.GET("/payments/:id", s.getPayment)

	v1.GET("/wallet/:uid/balance", s.getBalance)
	v1.GET("/wallet/:uid/ledger", s.getLedger)
	v1.POST("/wallet/:uid/charge", s.openCharge)
	v1.POST("/charges/:id/settle", s.settleCharge)

	v1.POST("/recovery/sweep", s.runSweep)
}
